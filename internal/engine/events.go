package engine

import (
	"log/slog"
	"time"
)

// Source names the browser event stream that reported a navigation.
type Source string

const (
	// SourceTabUpdated is the early "tab URL changed" signal.
	SourceTabUpdated Source = "tab_updated"
	// SourceNavigationCommitted is the later "navigation committed" signal.
	SourceNavigationCommitted Source = "navigation_committed"
)

// Valid reports whether s is one of the known streams.
func (s Source) Valid() bool {
	return s == SourceTabUpdated || s == SourceNavigationCommitted
}

// EventKind identifies an observability event emitted by the engine.
type EventKind string

const (
	KindExcluded       EventKind = "excluded"
	KindDispatched     EventKind = "dispatched"
	KindDuplicate      EventKind = "duplicate"
	KindDecided        EventKind = "decided"
	KindFailure        EventKind = "failure"
	KindRedirected     EventKind = "redirected"
	KindRedirectFailed EventKind = "redirect_failed"
	KindStale          EventKind = "stale"
	KindTabClosed      EventKind = "tab_closed"
	KindEvicted        EventKind = "evicted"
)

// Event is one observability record. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Time       time.Time     `json:"time"`
	TabID      string        `json:"tab_id"`
	URL        string        `json:"url,omitempty"`
	Source     Source        `json:"source,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Decision   string        `json:"decision,omitempty"`
	Label      string        `json:"label,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	Rule       string        `json:"rule,omitempty"`
	Latency    time.Duration `json:"-"`
	LatencyMS  int64         `json:"latency_ms,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Target     string        `json:"target,omitempty"`
	CurrentURL string        `json:"current_url,omitempty"`
}

// Observer receives engine events. Observe is called from the engine loop and
// from redirect goroutines, so implementations must be safe for concurrent use
// and must not block.
type Observer interface {
	Observe(Event)
}

// Observers fans an event out to every member.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}

// LogObserver writes every event to the default slog logger.
type LogObserver struct{}

func (LogObserver) Observe(ev Event) {
	switch ev.Kind {
	case KindExcluded:
		slog.Debug("navigation skipped", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "source", ev.Source, "reason", ev.Reason)
	case KindDispatched:
		slog.Info("classification dispatched", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "source", ev.Source, "request_id", ev.RequestID)
	case KindDuplicate:
		slog.Debug("duplicate navigation suppressed", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "source", ev.Source, "decision", ev.Decision)
	case KindDecided:
		slog.Info("classification result",
			"tab_id", ev.TabID,
			"url", truncateURL(ev.URL),
			"decision", ev.Decision,
			"label", ev.Label,
			"rule", ev.Rule,
			"latency_ms", ev.LatencyMS,
			"request_id", ev.RequestID,
		)
	case KindFailure:
		slog.Warn("classification failed", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "reason", ev.Reason, "error", ev.Error, "latency_ms", ev.LatencyMS)
	case KindRedirected:
		slog.Info("redirect issued", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "target", truncateURL(ev.Target))
	case KindRedirectFailed:
		slog.Warn("redirect failed", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "error", ev.Error)
	case KindStale:
		slog.Debug("stale classification result discarded", "tab_id", ev.TabID, "url", truncateURL(ev.URL), "current_url", truncateURL(ev.CurrentURL))
	case KindTabClosed:
		slog.Debug("tab closed", "tab_id", ev.TabID)
	case KindEvicted:
		slog.Debug("idle tab record evicted", "tab_id", ev.TabID, "url", truncateURL(ev.URL))
	}
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
