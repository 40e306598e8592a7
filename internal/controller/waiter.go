package controller

import (
	"sync"

	"github.com/dgnsrekt/navguard/internal/engine"
)

// Outcome is what a bridge caller learns about its report. Decision is empty
// when the caller did not wait, "pending" when the wait ran out and "excluded"
// when the URL is never classified.
type Outcome struct {
	Decision    string
	URL         string
	RedirectURL string
	Label       string
}

// Waiter matches engine events to bridge callers waiting on a (tab, url)
// pair. Register it as an engine observer.
type Waiter struct {
	mu      sync.Mutex
	pending map[string][]*waitEntry
}

type waitEntry struct {
	key string // normalized URL, "" when the URL is excluded
	raw string
	ch  chan Outcome
}

func NewWaiter() *Waiter {
	return &Waiter{pending: make(map[string][]*waitEntry)}
}

func (w *Waiter) add(tabID, key, raw string) *waitEntry {
	entry := &waitEntry{key: key, raw: raw, ch: make(chan Outcome, 1)}
	w.mu.Lock()
	w.pending[tabID] = append(w.pending[tabID], entry)
	w.mu.Unlock()
	return entry
}

func (w *Waiter) remove(tabID string, entry *waitEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.pending[tabID]
	for i, e := range list {
		if e == entry {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(w.pending, tabID)
		return
	}
	w.pending[tabID] = list
}

// Observe settles every waiter on ev's tab that ev answers.
func (w *Waiter) Observe(ev engine.Event) {
	switch ev.Kind {
	case engine.KindDecided, engine.KindDuplicate, engine.KindExcluded:
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.pending[ev.TabID]
	if len(list) == 0 {
		return
	}
	kept := list[:0]
	for _, entry := range list {
		out, ok := entry.match(ev)
		if !ok {
			kept = append(kept, entry)
			continue
		}
		entry.ch <- out
	}
	if len(kept) == 0 {
		delete(w.pending, ev.TabID)
		return
	}
	w.pending[ev.TabID] = kept
}

func (e *waitEntry) match(ev engine.Event) (Outcome, bool) {
	switch ev.Kind {
	case engine.KindExcluded:
		if ev.URL == e.raw {
			return Outcome{Decision: "excluded", URL: ev.URL}, true
		}
	case engine.KindDecided:
		if e.key != "" && ev.URL == e.key {
			return Outcome{Decision: ev.Decision, URL: ev.URL, RedirectURL: ev.Target, Label: ev.Label}, true
		}
	case engine.KindDuplicate:
		// A duplicate of a pending lookup keeps waiting for its decision.
		if e.key != "" && ev.URL == e.key && (ev.Decision == "allowed" || ev.Decision == "blocked") {
			return Outcome{Decision: ev.Decision, URL: ev.URL, RedirectURL: ev.Target}, true
		}
	}
	return Outcome{}, false
}
