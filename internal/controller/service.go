package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/navguard/internal/engine"
	"github.com/dgnsrekt/navguard/internal/metrics"
	"github.com/dgnsrekt/navguard/internal/navstate"
	"github.com/dgnsrekt/navguard/internal/urlnorm"
)

// Engine is the part of the interception engine the API drives.
type Engine interface {
	Report(ctx context.Context, tabID, url string, source engine.Source) error
	OnTabClosed(ctx context.Context, tabID string) error
	Store() *navstate.Store
}

// TabCounter reports how many browser tabs are being watched.
type TabCounter interface {
	TabCount() int
}

// FeedCounter reports live feed subscribers and messages dropped for them.
type FeedCounter interface {
	ClientCount() int
	Dropped() int64
}

// DropCounter reports work discarded on a full queue.
type DropCounter interface {
	Dropped() int64
}

// Stats is the payload of the stats endpoint.
type Stats struct {
	metrics.Snapshot
	TrackedTabs   int   `json:"tracked_tabs"`
	BrowserTabs   int   `json:"browser_tabs"`
	FeedClients   int   `json:"feed_clients"`
	FeedDropped   int64 `json:"feed_dropped"`
	NotifyDropped int64 `json:"notify_dropped"`
}

// MaxReportWait caps how long a bridge report may wait for its decision.
const MaxReportWait = 10 * time.Second

// Options carries the optional collaborators of a Service.
type Options struct {
	Browser  TabCounter
	Feed     FeedCounter
	Notifier DropCounter
	// Waiter must also be registered as an engine observer for reports
	// with a wait to see their decision.
	Waiter   *Waiter
}

// Service exposes tab inspection and the extension bridge to the API layer.
type Service struct {
	eng     Engine
	metrics *metrics.Metrics
	opts    Options
}

// NewService wires the engine with its counters. Every option may be nil.
func NewService(eng Engine, m *metrics.Metrics, opts Options) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{eng: eng, metrics: m, opts: opts}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &CodedError{Code: CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) ListTabs(ctx context.Context) ([]navstate.Record, error) {
	return s.eng.Store().List(), nil
}

func (s *Service) GetTab(ctx context.Context, tabID string) (navstate.Record, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return navstate.Record{}, err
	}
	rec, ok := s.eng.Store().Get(strings.TrimSpace(tabID))
	if !ok {
		return navstate.Record{}, newError(CodeTabNotFound, fmt.Sprintf("tab %q is not tracked", tabID), nil)
	}
	return rec, nil
}

// ReportNavigation feeds one navigation from an external event source, such
// as a browser extension, into the engine. An empty source means a committed
// navigation. With a positive wait it blocks until the engine settles the
// pair, so a caller without CDP access can redirect the tab itself.
func (s *Service) ReportNavigation(ctx context.Context, tabID, rawURL, source string, wait time.Duration) (Outcome, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return Outcome{}, err
	}
	if err := s.requireNonEmpty(rawURL, "url"); err != nil {
		return Outcome{}, err
	}
	if wait < 0 {
		return Outcome{}, newError(CodeValidation, "wait must not be negative", nil)
	}
	src := engine.Source(strings.TrimSpace(source))
	if src == "" {
		src = engine.SourceNavigationCommitted
	}
	if !src.Valid() {
		return Outcome{}, newError(CodeValidation, fmt.Sprintf("source must be %q or %q", engine.SourceTabUpdated, engine.SourceNavigationCommitted), nil)
	}
	tabID, rawURL = strings.TrimSpace(tabID), strings.TrimSpace(rawURL)

	var entry *waitEntry
	if wait > 0 && s.opts.Waiter != nil {
		key, _ := urlnorm.Normalize(rawURL)
		entry = s.opts.Waiter.add(tabID, key, rawURL)
		defer s.opts.Waiter.remove(tabID, entry)
	}

	if err := s.eng.Report(ctx, tabID, rawURL, src); err != nil {
		return Outcome{}, s.mapEngineErr(err)
	}
	if entry == nil {
		return Outcome{}, nil
	}

	timer := time.NewTimer(min(wait, MaxReportWait))
	defer timer.Stop()
	select {
	case out := <-entry.ch:
		return out, nil
	case <-timer.C:
		return Outcome{Decision: "pending"}, nil
	case <-ctx.Done():
		return Outcome{}, newError(CodeUnavailable, "request ended before a decision", ctx.Err())
	}
}

func (s *Service) CloseTab(ctx context.Context, tabID string) error {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return err
	}
	return s.mapEngineErr(s.eng.OnTabClosed(ctx, strings.TrimSpace(tabID)))
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	out := Stats{
		Snapshot:    s.metrics.Snapshot(),
		TrackedTabs: s.eng.Store().Count(),
	}
	if s.opts.Browser != nil {
		out.BrowserTabs = s.opts.Browser.TabCount()
	}
	if s.opts.Feed != nil {
		out.FeedClients = s.opts.Feed.ClientCount()
		out.FeedDropped = s.opts.Feed.Dropped()
	}
	if s.opts.Notifier != nil {
		out.NotifyDropped = s.opts.Notifier.Dropped()
	}
	return out, nil
}

func (s *Service) mapEngineErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrStopped):
		return newError(CodeEngineStopped, "interception engine is not running", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(CodeUnavailable, "engine queue did not accept the event in time", err)
	default:
		return newError(CodeUnavailable, "engine rejected the event", err)
	}
}
