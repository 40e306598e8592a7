package navstate

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Decision is the lifecycle state of one (tab, url) pair.
type Decision int

const (
	Unknown Decision = iota
	Pending
	Allowed
	Blocked
)

var decisionNames = map[Decision]string{
	Unknown: "unknown",
	Pending: "pending",
	Allowed: "allowed",
	Blocked: "blocked",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Terminal reports whether no further transition is possible for the pair.
func (d Decision) Terminal() bool {
	return d == Allowed || d == Blocked
}

func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Record is the per-tab navigation bookkeeping. URL holds the normalized key
// of the most recent navigation; Decision and RequestID belong to that URL only.
type Record struct {
	TabID        string    `json:"tab_id"`
	URL          string    `json:"url"`
	Decision     Decision  `json:"decision"`
	RequestID    string    `json:"request_id,omitempty"`
	Source       string    `json:"source,omitempty"`
	Redirected   bool      `json:"redirected"`
	// WarningShown is set once the tab has committed the warning page for a
	// blocked URL. A later navigation back to that URL is looked up again.
	WarningShown bool      `json:"warning_shown,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
	DecidedAt    time.Time `json:"decided_at,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

// Matches reports whether r tracks the given pair.
func (r Record) Matches(tabID, url string) bool {
	return r.TabID == tabID && r.URL == url
}

// Store maps tab IDs to their navigation record. Every method is atomic; callers
// that need read-modify-write must serialize themselves (the engine loop does).
type Store struct {
	records map[string]Record
	mu      sync.RWMutex
}

func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

func (s *Store) Get(tabID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[tabID]
	return rec, ok
}

// Upsert replaces the tab's record with rec.
func (s *Store) Upsert(rec Record) {
	s.mu.Lock()
	s.records[rec.TabID] = rec
	s.mu.Unlock()
}

// Remove deletes the tab's record and reports whether one existed.
func (s *Store) Remove(tabID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[tabID]
	delete(s.records, tabID)
	return ok
}

// Touch refreshes the idle clock of an existing record.
func (s *Store) Touch(tabID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[tabID]; ok {
		rec.LastSeen = at
		s.records[tabID] = rec
	}
}

// EvictIdle removes every record last seen before cutoff that is not waiting
// on a classification, and returns the removed records.
func (s *Store) EvictIdle(cutoff time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Record
	for id, rec := range s.records {
		if rec.Decision == Pending || !rec.LastSeen.Before(cutoff) {
			continue
		}
		evicted = append(evicted, rec)
		delete(s.records, id)
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].TabID < evicted[j].TabID })
	return evicted
}

// List returns a copy of all records ordered by tab ID.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
