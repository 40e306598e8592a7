package browser

import (
	"sort"
	"sync"

	"github.com/chromedp/cdproto/target"
)

// TabInfo is what the watcher knows about one page target.
type TabInfo struct {
	TargetID  target.ID `json:"target_id"`
	URL       string    `json:"url"`
	SessionID string    `json:"session_id,omitempty"`
}

// tabRegistry maps page targets to their last seen URL and attached session.
type tabRegistry struct {
	tabs     map[target.ID]*TabInfo
	sessions map[string]target.ID
	mu       sync.RWMutex
}

func newTabRegistry() *tabRegistry {
	return &tabRegistry{
		tabs:     make(map[target.ID]*TabInfo),
		sessions: make(map[string]target.ID),
	}
}

// observe records the target's URL. changed is true when the URL differs from
// the last one seen; isNew is true the first time the target is seen.
func (r *tabRegistry) observe(id target.ID, url string) (changed, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.tabs[id]
	if !ok {
		r.tabs[id] = &TabInfo{TargetID: id, URL: url}
		return url != "", true
	}
	if info.URL == url {
		return false, false
	}
	info.URL = url
	return true, false
}

// setSession binds a session to a known target. It reports false when the
// target went away while attaching.
func (r *tabRegistry) setSession(id target.ID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tabs[id]
	if !ok {
		return false
	}
	info.SessionID = sessionID
	r.sessions[sessionID] = id
	return true
}

func (r *tabRegistry) bySession(sessionID string) (target.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[sessionID]
	return id, ok
}

// dropSession forgets a detached session.
func (r *tabRegistry) dropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.sessions[sessionID]; ok {
		if info, ok := r.tabs[id]; ok && info.SessionID == sessionID {
			info.SessionID = ""
		}
		delete(r.sessions, sessionID)
	}
}

func (r *tabRegistry) remove(id target.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tabs[id]
	if !ok {
		return false
	}
	if info.SessionID != "" {
		delete(r.sessions, info.SessionID)
	}
	delete(r.tabs, id)
	return true
}

// reset forgets everything; used after a reconnect.
func (r *tabRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs = make(map[target.ID]*TabInfo)
	r.sessions = make(map[string]target.ID)
}

func (r *tabRegistry) list() []TabInfo {
	r.mu.RLock()
	out := make([]TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

func (r *tabRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
