package trust

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeEventStore records appends and can be told to fail.
type fakeEventStore struct {
	mu        sync.Mutex
	appended  []Event
	preloaded []Event
	failAll   bool
}

func (s *fakeEventStore) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("store unavailable")
	}
	s.appended = append(s.appended, ev)
	return nil
}

func (s *fakeEventStore) LoadAll(context.Context) ([]Event, error) {
	return s.preloaded, nil
}

func TestLogAppendPersists(t *testing.T) {
	store := &fakeEventStore{}
	l := NewLog(store)
	l.SetSyncPersist(true)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.Append(NewEvent("agent-1", EventTransactionSuccess, DeltaTransactionSuccess, "ok", now))

	if l.Len("agent-1") != 1 {
		t.Fatalf("in-memory events = %d, want 1", l.Len("agent-1"))
	}
	if len(store.appended) != 1 {
		t.Fatalf("store appends = %d, want 1", len(store.appended))
	}
}

func TestLogStoreFailureIsNotFatal(t *testing.T) {
	store := &fakeEventStore{failAll: true}
	l := NewLog(store)
	l.SetSyncPersist(true)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.Append(NewEvent("agent-1", EventTransactionFailure, DeltaTransactionFailure, "timeout", now))

	// The in-memory ledger stays authoritative even when the store is down.
	if l.Len("agent-1") != 1 {
		t.Fatalf("in-memory events = %d, want 1", l.Len("agent-1"))
	}
}

func TestLogLoad(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeEventStore{preloaded: []Event{
		NewEvent("agent-1", EventRegistration, DeltaRegistration, "", now),
		NewEvent("agent-2", EventRegistration, DeltaRegistration, "", now),
		NewEvent("agent-1", EventTransactionSuccess, DeltaTransactionSuccess, "ok", now.Add(time.Minute)),
	}}
	l := NewLog(store)
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if l.Len("agent-1") != 2 || l.Len("agent-2") != 1 {
		t.Fatalf("events = %d/%d, want 2/1", l.Len("agent-1"), l.Len("agent-2"))
	}
	evs := l.Events("agent-1")
	if evs[0].Type != EventRegistration || evs[1].Type != EventTransactionSuccess {
		t.Fatal("load should preserve event order")
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	l := NewLog(nil)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.Append(NewEvent("agent-1", EventRegistration, DeltaRegistration, "", now))

	evs := l.Events("agent-1")
	evs[0].Reason = "mutated"
	if l.Events("agent-1")[0].Reason == "mutated" {
		t.Fatal("Events should return a copy")
	}
}
