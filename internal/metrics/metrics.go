// Package metrics counts engine events for the stats endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/navguard/internal/engine"
)

// Metrics is an engine observer. All counters are safe for concurrent use.
type Metrics struct {
	Excluded        atomic.Int64
	Dispatched      atomic.Int64
	Duplicates      atomic.Int64
	Allowed         atomic.Int64
	Blocked         atomic.Int64
	Failures        atomic.Int64
	Timeouts        atomic.Int64
	Redirects       atomic.Int64
	RedirectsFailed atomic.Int64
	Stale           atomic.Int64
	TabsClosed      atomic.Int64
	Evicted         atomic.Int64

	startTime    time.Time
	avgLatencyNs atomic.Int64
	latencyCount atomic.Int64
	lastBlocked  atomic.Value // time.Time
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	Uptime          string    `json:"uptime"`
	Excluded        int64     `json:"excluded"`
	Dispatched      int64     `json:"dispatched"`
	Duplicates      int64     `json:"duplicates"`
	Allowed         int64     `json:"allowed"`
	Blocked         int64     `json:"blocked"`
	Failures        int64     `json:"failures"`
	Timeouts        int64     `json:"timeouts"`
	Redirects       int64     `json:"redirects"`
	RedirectsFailed int64     `json:"redirects_failed"`
	Stale           int64     `json:"stale"`
	TabsClosed      int64     `json:"tabs_closed"`
	Evicted         int64     `json:"evicted"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	LastBlocked     string    `json:"last_blocked,omitempty"`
}

func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) Observe(ev engine.Event) {
	switch ev.Kind {
	case engine.KindExcluded:
		m.Excluded.Add(1)
	case engine.KindDispatched:
		m.Dispatched.Add(1)
	case engine.KindDuplicate:
		m.Duplicates.Add(1)
	case engine.KindDecided:
		if ev.Decision == "blocked" {
			m.Blocked.Add(1)
			m.lastBlocked.Store(ev.Time)
		} else {
			m.Allowed.Add(1)
		}
		m.RecordLatency(ev.Latency)
	case engine.KindFailure:
		m.Failures.Add(1)
		if ev.Reason == "timeout" {
			m.Timeouts.Add(1)
		}
	case engine.KindRedirected:
		m.Redirects.Add(1)
	case engine.KindRedirectFailed:
		m.RedirectsFailed.Add(1)
	case engine.KindStale:
		m.Stale.Add(1)
	case engine.KindTabClosed:
		m.TabsClosed.Add(1)
	case engine.KindEvicted:
		m.Evicted.Add(1)
	}
}

// RecordLatency folds one classification latency into the running average.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	count := m.latencyCount.Add(1)
	for {
		oldAvg := m.avgLatencyNs.Load()
		newAvg := oldAvg + (ns-oldAvg)/count
		if m.avgLatencyNs.CompareAndSwap(oldAvg, newAvg) {
			return
		}
		count = m.latencyCount.Load()
	}
}

func (m *Metrics) AvgLatency() time.Duration {
	return time.Duration(m.avgLatencyNs.Load())
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:       time.Now(),
		Uptime:          time.Since(m.startTime).Round(time.Millisecond).String(),
		Excluded:        m.Excluded.Load(),
		Dispatched:      m.Dispatched.Load(),
		Duplicates:      m.Duplicates.Load(),
		Allowed:         m.Allowed.Load(),
		Blocked:         m.Blocked.Load(),
		Failures:        m.Failures.Load(),
		Timeouts:        m.Timeouts.Load(),
		Redirects:       m.Redirects.Load(),
		RedirectsFailed: m.RedirectsFailed.Load(),
		Stale:           m.Stale.Load(),
		TabsClosed:      m.TabsClosed.Load(),
		Evicted:         m.Evicted.Load(),
		AvgLatencyMs:    float64(m.avgLatencyNs.Load()) / float64(time.Millisecond),
	}
	if v := m.lastBlocked.Load(); v != nil {
		if t, ok := v.(time.Time); ok && !t.IsZero() {
			snap.LastBlocked = t.Format(time.RFC3339)
		}
	}
	return snap
}
