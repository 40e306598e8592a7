package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/navguard/internal/engine"
)

const (
	queueSize   = 32
	sendTimeout = 10 * time.Second
)

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "navguard: page blocked")
	req.Header.Set("Tags", "no_entry")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("ntfy response close failed", "error", closeErr)
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// BlockNotifier pushes a notification for every successful redirect. Observe
// only enqueues; Run does the sending.
type BlockNotifier struct {
	client   *http.Client
	endpoint string
	queue    chan string
	dropped  atomic.Int64
}

func NewBlockNotifier(client *http.Client, endpoint string) *BlockNotifier {
	return &BlockNotifier{
		client:   client,
		endpoint: endpoint,
		queue:    make(chan string, queueSize),
	}
}

func (n *BlockNotifier) Observe(ev engine.Event) {
	if ev.Kind != engine.KindRedirected {
		return
	}
	select {
	case n.queue <- blockMessage(ev):
	default:
		n.dropped.Add(1)
		slog.Warn("notification queue full, dropping", "tab_id", ev.TabID)
	}
}

// Run sends queued notifications until ctx is done.
func (n *BlockNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := Send(sctx, n.client, n.endpoint, msg); err != nil {
				slog.Warn("block notification failed", "endpoint", n.endpoint, "error", err)
			}
			cancel()
		}
	}
}

// Dropped returns the number of notifications discarded on a full queue.
func (n *BlockNotifier) Dropped() int64 {
	return n.dropped.Load()
}

func blockMessage(ev engine.Event) string {
	return fmt.Sprintf("Blocked %s in tab %s", ev.URL, ev.TabID)
}
