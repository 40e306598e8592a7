// Package engine is the interception policy engine: a single event loop that
// owns per-tab navigation state, deduplicates the two navigation streams,
// dispatches classification and issues at most one redirect per blocked pair.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/navguard/internal/classifier"
	"github.com/dgnsrekt/navguard/internal/navstate"
	"github.com/dgnsrekt/navguard/internal/urlnorm"
	"github.com/google/uuid"
)

// ErrStopped is returned when submitting to an engine whose Run has returned.
var ErrStopped = errors.New("engine stopped")

// FailurePolicy decides the verdict used when the classifier cannot answer.
type FailurePolicy int

const (
	FailOpen FailurePolicy = iota
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

const (
	DefaultWarningURL      = "http://127.0.0.1:8190/blocked"
	DefaultClassifyTimeout = 3 * time.Second
	DefaultRedirectTimeout = 5 * time.Second
	DefaultQueueSize       = 256
)

// Config tunes the engine. Zero values fall back to the defaults above; a zero
// IdleTTL disables idle eviction.
type Config struct {
	WarningURL      string
	ClassifyTimeout time.Duration
	RedirectTimeout time.Duration
	FailurePolicy   FailurePolicy
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	QueueSize       int
}

func (c Config) withDefaults() Config {
	if c.WarningURL == "" {
		c.WarningURL = DefaultWarningURL
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = DefaultClassifyTimeout
	}
	if c.RedirectTimeout <= 0 {
		c.RedirectTimeout = DefaultRedirectTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SweepInterval <= 0 && c.IdleTTL > 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Redirector sends a tab to the warning resource.
type Redirector interface {
	Redirect(ctx context.Context, tabID, target string) error
}

// tabForgetter is implemented by redirectors that cache per-tab state.
type tabForgetter interface {
	Forget(tabID string)
}

type inputKind int

const (
	inputNavigation inputKind = iota
	inputTabClosed
)

type input struct {
	kind   inputKind
	tabID  string
	url    string
	source Source
}

type result struct {
	tabID     string
	url       string
	requestID string
	verdict   classifier.Verdict
	err       error
	latency   time.Duration
}

type Engine struct {
	cfg        Config
	classifier classifier.Classifier
	redirector Redirector
	store      *navstate.Store
	observer   Observer
	warningKey string

	inbox   chan input
	results chan result
	done    chan struct{}
	runOnce sync.Once
	wg      sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func New(cfg Config, cl classifier.Classifier, rd Redirector, store *navstate.Store, obs Observer) *Engine {
	cfg = cfg.withDefaults()
	if store == nil {
		store = navstate.NewStore()
	}
	if obs == nil {
		obs = Observers(nil)
	}
	return &Engine{
		cfg:        cfg,
		classifier: cl,
		redirector: rd,
		store:      store,
		observer:   obs,
		warningKey: warningKey(cfg.WarningURL),
		inbox:      make(chan input, cfg.QueueSize),
		results:    make(chan result, cfg.QueueSize),
		done:       make(chan struct{}),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Store exposes the navigation state for read-only inspection.
func (e *Engine) Store() *navstate.Store {
	return e.store
}

// OnTabUpdated reports a tab change from the "tab updated" stream. An empty url
// means the change carried no new address and is ignored.
func (e *Engine) OnTabUpdated(ctx context.Context, tabID, url string) error {
	if url == "" {
		return nil
	}
	return e.submit(ctx, input{kind: inputNavigation, tabID: tabID, url: url, source: SourceTabUpdated})
}

// OnNavigationCommitted reports a committed navigation.
func (e *Engine) OnNavigationCommitted(ctx context.Context, tabID, url string) error {
	return e.submit(ctx, input{kind: inputNavigation, tabID: tabID, url: url, source: SourceNavigationCommitted})
}

// OnTabClosed discards the tab's record.
func (e *Engine) OnTabClosed(ctx context.Context, tabID string) error {
	return e.submit(ctx, input{kind: inputTabClosed, tabID: tabID})
}

// Report routes a navigation to the handler for its source stream.
func (e *Engine) Report(ctx context.Context, tabID, url string, source Source) error {
	switch source {
	case SourceTabUpdated:
		return e.OnTabUpdated(ctx, tabID, url)
	case SourceNavigationCommitted:
		return e.OnNavigationCommitted(ctx, tabID, url)
	default:
		return fmt.Errorf("unknown navigation source %q", source)
	}
}

func (e *Engine) submit(ctx context.Context, in input) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.inbox <- in:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is done, then waits for in-flight lookups and
// redirects to finish. Run must be called once.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine already running")
	}
	defer close(e.done)

	var sweep <-chan time.Time
	if e.cfg.IdleTTL > 0 {
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	slog.Info("engine started",
		"warning_url", e.cfg.WarningURL,
		"classify_timeout_ms", e.cfg.ClassifyTimeout.Milliseconds(),
		"failure_policy", e.cfg.FailurePolicy.String(),
		"idle_ttl", e.cfg.IdleTTL.String(),
	)

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			slog.Info("engine stopped", "tabs", e.store.Count())
			return nil
		case in := <-e.inbox:
			switch in.kind {
			case inputTabClosed:
				e.closeTab(in.tabID)
			default:
				e.navigate(ctx, in)
			}
		case res := <-e.results:
			e.applyResult(ctx, res)
		case <-sweep:
			e.sweep()
		}
	}
}

// navigate is the single transition function shared by both streams.
func (e *Engine) navigate(ctx context.Context, in input) {
	now := e.now()

	key, err := urlnorm.Normalize(in.url)
	if err == nil && e.isWarningPage(key) {
		if in.source == SourceNavigationCommitted {
			e.warningCommitted(in.tabID, now)
		}
		err = fmt.Errorf("%w: warning page", urlnorm.ErrExcluded)
	}
	if err != nil {
		e.emit(Event{Kind: KindExcluded, TabID: in.tabID, URL: in.url, Source: in.source, Reason: err.Error()})
		return
	}

	if rec, ok := e.store.Get(in.tabID); ok && rec.Matches(in.tabID, key) && rec.Decision != navstate.Unknown && !rec.WarningShown {
		e.store.Touch(in.tabID, now)
		ev := Event{Kind: KindDuplicate, TabID: in.tabID, URL: key, Source: in.source, Decision: rec.Decision.String(), RequestID: rec.RequestID}
		if rec.Decision == navstate.Blocked {
			ev.Target = e.warningTarget(key)
		}
		e.emit(ev)
		return
	}

	rec := navstate.Record{
		TabID:      in.tabID,
		URL:        key,
		Decision:   navstate.Pending,
		RequestID:  e.newID(),
		Source:     string(in.source),
		ObservedAt: now,
		LastSeen:   now,
	}
	e.store.Upsert(rec)
	e.emit(Event{Kind: KindDispatched, TabID: rec.TabID, URL: rec.URL, Source: in.source, RequestID: rec.RequestID})
	e.dispatch(ctx, rec)
}

// warningCommitted marks the tab's blocked record once the warning page has
// actually replaced it. Reports of the blocked URL that were already in flight
// arrive before this commit and stay duplicates.
func (e *Engine) warningCommitted(tabID string, now time.Time) {
	rec, ok := e.store.Get(tabID)
	if !ok || rec.Decision != navstate.Blocked || rec.WarningShown {
		return
	}
	rec.WarningShown = true
	rec.LastSeen = now
	e.store.Upsert(rec)
}

func (e *Engine) dispatch(ctx context.Context, rec navstate.Record) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		start := time.Now()
		verdict, err := e.classify(ctx, rec.URL)
		res := result{
			tabID:     rec.TabID,
			url:       rec.URL,
			requestID: rec.RequestID,
			verdict:   verdict,
			err:       err,
			latency:   time.Since(start),
		}

		select {
		case e.results <- res:
		case <-ctx.Done():
		}
	}()
}

// classify bounds the lookup by ClassifyTimeout even when the classifier
// ignores its context, and turns a panic into a failure.
func (e *Engine) classify(ctx context.Context, key string) (classifier.Verdict, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
	defer cancel()

	type answer struct {
		verdict classifier.Verdict
		err     error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		v, err := e.classifier.Classify(cctx, key)
		ch <- answer{verdict: v, err: err}
	}()

	select {
	case a := <-ch:
		return a.verdict, a.err
	case <-cctx.Done():
		return classifier.Verdict{}, &classifier.Error{
			Code:    classifier.CodeTimeout,
			Message: fmt.Sprintf("no verdict within %s", e.cfg.ClassifyTimeout),
			Cause:   cctx.Err(),
		}
	}
}

func (e *Engine) applyResult(ctx context.Context, res result) {
	rec, ok := e.store.Get(res.tabID)
	if !ok || !rec.Matches(res.tabID, res.url) || rec.RequestID != res.requestID || rec.Decision.Terminal() {
		e.emit(Event{Kind: KindStale, TabID: res.tabID, URL: res.url, RequestID: res.requestID, CurrentURL: rec.URL})
		return
	}

	decision := navstate.Allowed
	switch {
	case res.err != nil:
		e.emit(Event{
			Kind:      KindFailure,
			TabID:     res.tabID,
			URL:       res.url,
			RequestID: res.requestID,
			Reason:    classifier.Reason(res.err),
			Error:     res.err.Error(),
			Latency:   res.latency,
			LatencyMS: res.latency.Milliseconds(),
		})
		if e.cfg.FailurePolicy == FailClosed {
			decision = navstate.Blocked
		}
	case res.verdict.Malicious:
		decision = navstate.Blocked
	}

	now := e.now()
	rec.Decision = decision
	rec.RequestID = ""
	rec.DecidedAt = now
	rec.LastSeen = now
	rec.Redirected = decision == navstate.Blocked
	e.store.Upsert(rec)

	decided := Event{
		Kind:       KindDecided,
		TabID:      rec.TabID,
		URL:        rec.URL,
		RequestID:  res.requestID,
		Decision:   decision.String(),
		Label:      res.verdict.Label,
		Confidence: res.verdict.Confidence,
		Rule:       res.verdict.Rule,
		Latency:    res.latency,
		LatencyMS:  res.latency.Milliseconds(),
	}
	if decision == navstate.Blocked {
		decided.Target = e.warningTarget(rec.URL)
	}
	e.emit(decided)

	if decision == navstate.Blocked {
		e.redirect(ctx, rec, decided.Target)
	}
}

func (e *Engine) redirect(ctx context.Context, rec navstate.Record, target string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		rctx, cancel := context.WithTimeout(ctx, e.cfg.RedirectTimeout)
		defer cancel()

		if err := e.redirector.Redirect(rctx, rec.TabID, target); err != nil {
			e.emit(Event{Kind: KindRedirectFailed, TabID: rec.TabID, URL: rec.URL, Target: target, Error: err.Error()})
			return
		}
		e.emit(Event{Kind: KindRedirected, TabID: rec.TabID, URL: rec.URL, Target: target})
	}()
}

func (e *Engine) closeTab(tabID string) {
	e.store.Remove(tabID)
	if f, ok := e.redirector.(tabForgetter); ok {
		f.Forget(tabID)
	}
	e.emit(Event{Kind: KindTabClosed, TabID: tabID})
}

func (e *Engine) sweep() {
	if e.cfg.IdleTTL <= 0 {
		return
	}
	for _, rec := range e.store.EvictIdle(e.now().Add(-e.cfg.IdleTTL)) {
		e.emit(Event{Kind: KindEvicted, TabID: rec.TabID, URL: rec.URL, Decision: rec.Decision.String()})
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.observer.Observe(ev)
}

// warningTarget appends the blocked key to the warning URL as ?url=.
func (e *Engine) warningTarget(key string) string {
	u, err := url.Parse(e.cfg.WarningURL)
	if err != nil {
		return e.cfg.WarningURL
	}
	q := u.Query()
	q.Set("url", key)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Engine) isWarningPage(key string) bool {
	if e.warningKey == "" {
		return false
	}
	return key == e.warningKey || strings.HasPrefix(key, e.warningKey+"?")
}

// warningKey is the normalized warning URL without its query. Non-web
// warning URLs return "" since the normalizer already excludes them.
func warningKey(warningURL string) string {
	key, err := urlnorm.Normalize(warningURL)
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}
	return key
}
