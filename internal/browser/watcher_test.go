package browser

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type cdpCommand struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
}

// fakeBrowser speaks just enough browser-level CDP for the watcher.
type fakeBrowser struct {
	srv  *httptest.Server
	cmds chan cdpCommand

	mu   sync.Mutex
	conn net.Conn
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{cmds: make(chan cdpCommand, 64)}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)
	fb.srv = httptest.NewServer(mux)

	t.Cleanup(func() {
		fb.mu.Lock()
		if fb.conn != nil {
			fb.conn.Close()
		}
		fb.mu.Unlock()
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	fb.mu.Lock()
	fb.conn = conn
	fb.mu.Unlock()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var cmd cdpCommand
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		fb.cmds <- cmd

		result := json.RawMessage(`{}`)
		if cmd.Method == "Target.attachToTarget" {
			var p struct {
				TargetID string `json:"targetId"`
			}
			_ = json.Unmarshal(cmd.Params, &p)
			result, _ = json.Marshal(map[string]string{"sessionId": "S-" + p.TargetID})
		}
		resp := map[string]any{"id": cmd.ID, "result": result}
		if cmd.SessionID != "" {
			resp["sessionId"] = cmd.SessionID
		}
		fb.write(resp)
	}
}

func (fb *fakeBrowser) write(v any) {
	data, _ := json.Marshal(v)
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.conn != nil {
		_ = wsutil.WriteServerText(fb.conn, data)
	}
}

func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	fb.write(msg)
}

func (fb *fakeBrowser) awaitCommand(t *testing.T, method string) cdpCommand {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case cmd := <-fb.cmds:
			if cmd.Method == method {
				return cmd
			}
		case <-deadline:
			t.Fatalf("no %s command", method)
			return cdpCommand{}
		}
	}
}

type sinkCall struct {
	kind  string
	tabID string
	url   string
}

type recordingSink struct {
	calls chan sinkCall
}

func (s *recordingSink) OnTabUpdated(_ context.Context, tabID, url string) error {
	s.calls <- sinkCall{"tab_updated", tabID, url}
	return nil
}

func (s *recordingSink) OnNavigationCommitted(_ context.Context, tabID, url string) error {
	s.calls <- sinkCall{"navigation_committed", tabID, url}
	return nil
}

func (s *recordingSink) OnTabClosed(_ context.Context, tabID string) error {
	s.calls <- sinkCall{"tab_closed", tabID, ""}
	return nil
}

func (s *recordingSink) expect(t *testing.T, want sinkCall) {
	t.Helper()
	select {
	case got := <-s.calls:
		if got != want {
			t.Fatalf("sink call = %+v; want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no sink call; want %+v", want)
	}
}

func pageInfo(id, url string) map[string]any {
	return map[string]any{"targetInfo": map[string]any{"targetId": id, "type": "page", "url": url}}
}

func TestWatcherMapsTargetEventsToStreams(t *testing.T) {
	fb := newFakeBrowser(t)
	sink := &recordingSink{calls: make(chan sinkCall, 16)}
	w := NewWatcher(fb.srv.URL, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	fb.awaitCommand(t, "Target.setDiscoverTargets")

	fb.emit("Target.targetCreated", "", pageInfo("T1", "https://a.example/"))
	sink.expect(t, sinkCall{"tab_updated", "T1", "https://a.example/"})

	attach := fb.awaitCommand(t, "Target.attachToTarget")
	var p struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}
	if err := json.Unmarshal(attach.Params, &p); err != nil || p.TargetID != "T1" || !p.Flatten {
		t.Fatalf("attach params = %s", attach.Params)
	}
	if enable := fb.awaitCommand(t, "Page.enable"); enable.SessionID != "S-T1" {
		t.Fatalf("Page.enable session = %q; want S-T1", enable.SessionID)
	}

	fb.emit("Page.frameNavigated", "S-T1", map[string]any{
		"frame": map[string]any{"id": "F1", "url": "https://a.example/login", "urlFragment": "#top"},
	})
	sink.expect(t, sinkCall{"navigation_committed", "T1", "https://a.example/login#top"})

	// Title-only change, subframe commit and non-page targets are not reported.
	fb.emit("Target.targetInfoChanged", "", pageInfo("T1", "https://a.example/"))
	fb.emit("Page.frameNavigated", "S-T1", map[string]any{
		"frame": map[string]any{"id": "F2", "parentId": "F1", "url": "https://ads.example/"},
	})
	fb.emit("Target.targetCreated", "", map[string]any{
		"targetInfo": map[string]any{"targetId": "W1", "type": "service_worker", "url": "https://a.example/sw.js"},
	})

	fb.emit("Target.targetInfoChanged", "", pageInfo("T1", "https://a.example/login"))
	sink.expect(t, sinkCall{"tab_updated", "T1", "https://a.example/login"})

	if got := w.TabCount(); got != 1 {
		t.Fatalf("TabCount() = %d; want 1", got)
	}
	if tabs := w.Tabs(); len(tabs) != 1 || tabs[0].SessionID != "S-T1" {
		t.Fatalf("Tabs() = %+v", tabs)
	}

	fb.emit("Target.targetDestroyed", "", map[string]any{"targetId": "T1"})
	sink.expect(t, sinkCall{"tab_closed", "T1", ""})
	if got := w.TabCount(); got != 0 {
		t.Fatalf("TabCount() = %d; want 0", got)
	}
}

func TestWatcherStopsWhenBrowserUnavailable(t *testing.T) {
	w := NewWatcher("http://127.0.0.1:1", &recordingSink{calls: make(chan sinkCall, 1)})
	w.minBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v; want nil on cancel", err)
	}
}

func TestTabRegistry(t *testing.T) {
	r := newTabRegistry()

	if changed, isNew := r.observe("T1", "https://a.example/"); !changed || !isNew {
		t.Fatalf("first observe = %v, %v; want true, true", changed, isNew)
	}
	if changed, isNew := r.observe("T1", "https://a.example/"); changed || isNew {
		t.Fatalf("same url observe = %v, %v; want false, false", changed, isNew)
	}
	if changed, _ := r.observe("T2", ""); changed {
		t.Fatal("observe with empty url reported a change")
	}

	if !r.setSession("T1", "S1") {
		t.Fatal("setSession() = false for known target")
	}
	if r.setSession("T9", "S9") {
		t.Fatal("setSession() = true for unknown target")
	}
	if id, ok := r.bySession("S1"); !ok || id != "T1" {
		t.Fatalf("bySession() = %q, %v", id, ok)
	}

	r.dropSession("S1")
	if _, ok := r.bySession("S1"); ok {
		t.Fatal("session still mapped after dropSession")
	}

	r.setSession("T1", "S2")
	if !r.remove("T1") || r.remove("T1") {
		t.Fatal("remove() should succeed once")
	}
	if _, ok := r.bySession("S2"); ok {
		t.Fatal("session still mapped after remove")
	}
	if got := r.count(); got != 1 {
		t.Fatalf("count() = %d; want 1", got)
	}
}
