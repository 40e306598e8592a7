package navstate

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStoreUpsertGetRemove(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("tab-1"); ok {
		t.Fatal("Get() on empty store returned a record")
	}

	s.Upsert(Record{TabID: "tab-1", URL: "https://a.example/", Decision: Pending, RequestID: "req-1"})
	rec, ok := s.Get("tab-1")
	if !ok {
		t.Fatal("Get() = absent; want record")
	}
	if !rec.Matches("tab-1", "https://a.example/") {
		t.Fatalf("record = %+v; want pair tab-1/https://a.example/", rec)
	}

	s.Upsert(Record{TabID: "tab-1", URL: "https://b.example/", Decision: Pending, RequestID: "req-2"})
	rec, _ = s.Get("tab-1")
	if rec.URL != "https://b.example/" || rec.RequestID != "req-2" {
		t.Fatalf("Upsert did not replace record: %+v", rec)
	}
	if got := s.Count(); got != 1 {
		t.Fatalf("Count() = %d; want 1", got)
	}

	if !s.Remove("tab-1") {
		t.Fatal("Remove() = false; want true")
	}
	if s.Remove("tab-1") {
		t.Fatal("second Remove() = true; want false")
	}
}

func TestStoreEvictIdleSkipsPendingAndFresh(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore()
	s.Upsert(Record{TabID: "old-allowed", Decision: Allowed, LastSeen: base.Add(-2 * time.Hour)})
	s.Upsert(Record{TabID: "old-pending", Decision: Pending, LastSeen: base.Add(-2 * time.Hour)})
	s.Upsert(Record{TabID: "fresh", Decision: Blocked, LastSeen: base})
	s.Upsert(Record{TabID: "old-blocked", Decision: Blocked, LastSeen: base.Add(-90 * time.Minute)})

	evicted := s.EvictIdle(base.Add(-time.Hour))
	if len(evicted) != 2 {
		t.Fatalf("EvictIdle() evicted %d records; want 2", len(evicted))
	}
	if evicted[0].TabID != "old-allowed" || evicted[1].TabID != "old-blocked" {
		t.Fatalf("evicted = %q, %q; want old-allowed, old-blocked", evicted[0].TabID, evicted[1].TabID)
	}
	if _, ok := s.Get("old-pending"); !ok {
		t.Fatal("pending record was evicted")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("fresh record was evicted")
	}
}

func TestStoreTouchAndList(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Upsert(Record{TabID: "b"})
	s.Upsert(Record{TabID: "a"})
	s.Touch("a", at)
	s.Touch("missing", at)

	list := s.List()
	if len(list) != 2 || list[0].TabID != "a" || list[1].TabID != "b" {
		t.Fatalf("List() = %+v; want [a b]", list)
	}
	if !list[0].LastSeen.Equal(at) {
		t.Fatalf("LastSeen = %v; want %v", list[0].LastSeen, at)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("Touch() created a record")
	}
}

func TestDecisionStringAndJSON(t *testing.T) {
	tests := []struct {
		d        Decision
		want     string
		terminal bool
	}{
		{Unknown, "unknown", false},
		{Pending, "pending", false},
		{Allowed, "allowed", true},
		{Blocked, "blocked", true},
		{Decision(42), "decision(42)", false},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %q; want %q", got, tt.want)
		}
		if got := tt.d.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v; want %v", tt.d, got, tt.terminal)
		}
	}

	data, err := json.Marshal(Record{TabID: "t", Decision: Blocked})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded["decision"] != "blocked" {
		t.Fatalf("decision = %v; want blocked", decoded["decision"])
	}
}
