package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Redirector navigates existing tabs through a chromedp remote allocator,
// keeping one attached chromedp context per tab.
type Redirector struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[target.ID]*tabSession
}

type tabSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
}

// NewRedirector connects lazily to the CDP endpoint on first use.
func NewRedirector(cdpURL string) *Redirector {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	return &Redirector{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabs:        make(map[target.ID]*tabSession),
	}
}

// Redirect navigates tabID to target. A tab that has closed or cannot be
// attached returns an error; nothing is retried.
func (r *Redirector) Redirect(ctx context.Context, tabID, url string) error {
	sess, err := r.session(ctx, target.ID(tabID))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(sess.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigate tab %s: %w", tabID, ctx.Err())
		}
		r.release(target.ID(tabID), sess)
		return fmt.Errorf("navigate tab %s: %w", tabID, err)
	}
	return nil
}

func (r *Redirector) session(ctx context.Context, id target.ID) (*tabSession, error) {
	r.mu.Lock()
	sess, ok := r.tabs[id]
	if !ok {
		tabCtx, tabCancel := chromedp.NewContext(r.allocCtx, chromedp.WithTargetID(id))
		sess = &tabSession{ctx: tabCtx, cancel: tabCancel, ready: make(chan struct{})}
		r.tabs[id] = sess
		go func() {
			sess.err = chromedp.Run(tabCtx)
			close(sess.ready)
		}()
	}
	r.mu.Unlock()

	select {
	case <-sess.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("attach tab %s: %w", id, ctx.Err())
	}
	if sess.err != nil {
		r.release(id, sess)
		return nil, fmt.Errorf("attach tab %s: %w", id, sess.err)
	}
	return sess, nil
}

// Forget drops the cached context for a tab.
func (r *Redirector) Forget(tabID string) {
	r.mu.Lock()
	sess, ok := r.tabs[target.ID(tabID)]
	delete(r.tabs, target.ID(tabID))
	r.mu.Unlock()
	if ok {
		sess.cancel()
		slog.Debug("redirector: tab context released", "tab_id", tabID)
	}
}

// release drops sess only if it is still the cached session for id.
func (r *Redirector) release(id target.ID, sess *tabSession) {
	r.mu.Lock()
	if r.tabs[id] == sess {
		delete(r.tabs, id)
	}
	r.mu.Unlock()
	sess.cancel()
}

// TabCount returns the number of cached tab contexts.
func (r *Redirector) TabCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// Close releases every tab context and the allocator.
func (r *Redirector) Close() {
	r.mu.Lock()
	r.tabs = make(map[target.ID]*tabSession)
	r.mu.Unlock()

	if r.allocCancel != nil {
		r.allocCancel()
	}
	slog.Info("redirector closed")
}
