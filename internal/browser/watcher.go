package browser

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/target"
)

const attachTimeout = 10 * time.Second

// Sink receives the two navigation streams and tab closures.
type Sink interface {
	OnTabUpdated(ctx context.Context, tabID, url string) error
	OnNavigationCommitted(ctx context.Context, tabID, url string) error
	OnTabClosed(ctx context.Context, tabID string) error
}

// Watcher turns browser-level CDP target events into navigation reports:
// target URL changes become "tab updated", main-frame commits on an attached
// session become "navigation committed", and destroyed targets close the tab.
type Watcher struct {
	httpBase   string
	conn       *cdpConn
	sink       Sink
	tabs       *tabRegistry
	minBackoff time.Duration
	maxBackoff time.Duration

	ctx context.Context
}

type targetInfo struct {
	TargetID target.ID `json:"targetId"`
	Type     string    `json:"type"`
	URL      string    `json:"url"`
}

// NewWatcher returns a watcher for the CDP HTTP endpoint, e.g.
// "http://127.0.0.1:9220".
func NewWatcher(httpBase string, sink Sink) *Watcher {
	w := &Watcher{
		httpBase:   httpBase,
		conn:       newCDPConn(httpBase),
		sink:       sink,
		tabs:       newTabRegistry(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		ctx:        context.Background(),
	}
	w.conn.registerEventHandler("Target.targetCreated", w.onTargetInfo)
	w.conn.registerEventHandler("Target.targetInfoChanged", w.onTargetInfo)
	w.conn.registerEventHandler("Target.targetDestroyed", w.onTargetDestroyed)
	w.conn.registerEventHandler("Target.detachedFromTarget", w.onDetached)
	w.conn.registerEventHandler("Page.frameNavigated", w.onFrameNavigated)
	return w
}

// Run watches the browser until ctx is done, reconnecting with backoff when
// the connection drops.
func (w *Watcher) Run(ctx context.Context) error {
	w.ctx = ctx
	backoff := w.minBackoff
	for {
		connected, err := w.watch(ctx)
		if ctx.Err() != nil {
			slog.Info("cdp watcher stopped")
			return nil
		}
		if connected {
			backoff = w.minBackoff
		}
		slog.Warn("cdp watcher disconnected", "endpoint", w.httpBase, "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.maxBackoff)
	}
}

func (w *Watcher) watch(ctx context.Context) (bool, error) {
	done, err := w.conn.connect(ctx)
	if err != nil {
		return false, err
	}
	defer w.conn.close()

	w.tabs.reset()
	discover := struct {
		Discover bool `json:"discover"`
	}{Discover: true}
	if _, err := w.conn.send(ctx, "", "Target.setDiscoverTargets", discover); err != nil {
		return true, err
	}
	slog.Info("cdp watcher connected", "endpoint", w.httpBase)

	select {
	case <-ctx.Done():
		return true, nil
	case <-done:
		return true, errors.New("cdp connection lost")
	}
}

// TabCount returns the number of page targets currently known.
func (w *Watcher) TabCount() int {
	return w.tabs.count()
}

// Tabs returns the known page targets ordered by ID.
func (w *Watcher) Tabs() []TabInfo {
	return w.tabs.list()
}

func (w *Watcher) onTargetInfo(_ string, params json.RawMessage) {
	var evt struct {
		TargetInfo targetInfo `json:"targetInfo"`
	}
	if err := json.Unmarshal(params, &evt); err != nil {
		slog.Debug("cdp watcher: bad target event", "error", err)
		return
	}
	info := evt.TargetInfo
	if info.Type != "page" {
		return
	}

	changed, isNew := w.tabs.observe(info.TargetID, info.URL)
	if changed {
		w.report(w.sink.OnTabUpdated(w.ctx, string(info.TargetID), info.URL), "tab_updated", info.TargetID)
	}
	if isNew {
		// Attaching waits on a response the read loop must deliver.
		go w.attach(info.TargetID)
	}
}

func (w *Watcher) attach(id target.ID) {
	ctx, cancel := context.WithTimeout(w.ctx, attachTimeout)
	defer cancel()

	sessionID, err := w.conn.attachToTarget(ctx, string(id))
	if err != nil {
		slog.Debug("cdp watcher: attach failed", "target_id", id, "error", err)
		return
	}
	if !w.tabs.setSession(id, sessionID) {
		return
	}
	if _, err := w.conn.send(ctx, sessionID, "Page.enable", nil); err != nil {
		slog.Debug("cdp watcher: Page.enable failed", "target_id", id, "error", err)
		return
	}
	slog.Debug("cdp watcher: attached", "target_id", id, "session_id", sessionID)
}

func (w *Watcher) onFrameNavigated(sessionID string, params json.RawMessage) {
	var evt struct {
		Frame struct {
			ID          string `json:"id"`
			ParentID    string `json:"parentId"`
			URL         string `json:"url"`
			URLFragment string `json:"urlFragment"`
		} `json:"frame"`
	}
	if err := json.Unmarshal(params, &evt); err != nil {
		slog.Debug("cdp watcher: bad frameNavigated", "error", err)
		return
	}
	if evt.Frame.ParentID != "" {
		return
	}
	id, ok := w.tabs.bySession(sessionID)
	if !ok {
		return
	}
	url := evt.Frame.URL + evt.Frame.URLFragment
	w.report(w.sink.OnNavigationCommitted(w.ctx, string(id), url), "navigation_committed", id)
}

func (w *Watcher) onTargetDestroyed(_ string, params json.RawMessage) {
	var evt struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	if w.tabs.remove(evt.TargetID) {
		w.report(w.sink.OnTabClosed(w.ctx, string(evt.TargetID)), "tab_closed", evt.TargetID)
	}
}

func (w *Watcher) onDetached(_ string, params json.RawMessage) {
	var evt struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	w.tabs.dropSession(evt.SessionID)
}

func (w *Watcher) report(err error, kind string, id target.ID) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	slog.Warn("navigation report failed", "kind", kind, "target_id", id, "error", err)
}
