package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errNotConnected = errors.New("cdp: not connected")

// cdpConn is a minimal browser-level CDP client. It only discovers targets and
// attaches flat sessions, leaving the pages' own state alone.
type cdpConn struct {
	httpBase string // e.g. "http://127.0.0.1:9220"

	mu   sync.Mutex
	conn net.Conn
	done chan struct{}
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler func(sessionID string, params json.RawMessage)

func newCDPConn(httpBase string) *cdpConn {
	return &cdpConn{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// connect dials the browser-level WebSocket endpoint and returns a channel
// that is closed when the connection drops.
func (c *cdpConn) connect(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.done, nil
	}

	wsURL, err := c.browserWSURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("cdp: browser ws url: %w", err)
	}

	slog.Debug("cdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial: %w", err)
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.pendingMu.Lock()
	c.pending = make(map[int64]chan json.RawMessage)
	c.pendingMu.Unlock()
	go c.readLoop(conn, c.done)
	return c.done, nil
}

func (c *cdpConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Debug("cdp close failed", "error", err)
		}
		c.conn = nil
	}
}

// readLoop dispatches responses to waiters and events to handlers until the
// connection fails.
func (c *cdpConn) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer c.closeAllPending()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp read loop exit", "error", err)
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			c.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (c *cdpConn) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *cdpConn) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// send issues a command, optionally on a flat session, and returns the inner
// result of the response.
func (c *cdpConn) send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errNotConnected
	}

	id := c.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cdp: marshal: %w", err)
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdp: send: %w", err)
	}

	var resp json.RawMessage
	select {
	case raw, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp: connection closed")
		}
		resp = raw
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("cdp: unmarshal %s: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("cdp: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// attachToTarget attaches a flat session to the given target.
func (c *cdpConn) attachToTarget(ctx context.Context, targetID string) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	raw, err := c.send(ctx, "", "Target.attachToTarget", params)
	if err != nil {
		return "", err
	}
	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("cdp: unmarshal attach: %w", err)
	}
	if result.SessionID == "" {
		return "", fmt.Errorf("cdp: attach %s: empty session id", targetID)
	}
	return result.SessionID, nil
}

// registerEventHandler registers a handler for a CDP event method. Handlers
// survive reconnects.
func (c *cdpConn) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) {
	c.eventMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], fn)
	c.eventMu.Unlock()
}

func (c *cdpConn) dispatchEvent(method, sessionID string, params json.RawMessage) {
	c.eventMu.RLock()
	handlers := make([]eventHandler, len(c.eventHandlers[method]))
	copy(handlers, c.eventHandlers[method])
	c.eventMu.RUnlock()
	for _, h := range handlers {
		h(sessionID, params)
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (c *cdpConn) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
