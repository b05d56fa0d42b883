package trust

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventStore persists trust events. The in-memory log stays authoritative;
// store writes are best-effort replication.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	LoadAll(ctx context.Context) ([]Event, error)
}

// Log is the in-memory append-only trust ledger, keyed by agent. Appends are
// non-blocking: persistence happens fire-and-forget unless synchronous mode
// is enabled (tests use that to make persisted state deterministic).
type Log struct {
	mu     sync.RWMutex
	events map[string][]Event

	store       EventStore
	syncPersist bool
}

// NewLog creates a log backed by the given store. A nil store keeps the
// ledger memory-only.
func NewLog(store EventStore) *Log {
	return &Log{
		events: make(map[string][]Event),
		store:  store,
	}
}

// SetSyncPersist makes Append wait for the store write. For tests.
func (l *Log) SetSyncPersist(enabled bool) {
	l.syncPersist = enabled
}

// Load populates the ledger from the store. Event order within an agent is
// preserved as returned by the store.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	evs, err := l.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range evs {
		l.events[ev.AgentID] = append(l.events[ev.AgentID], ev)
	}
	slog.Info("trust ledger loaded", "events", len(evs))
	return nil
}

// Append adds an event to the in-memory ledger and schedules a best-effort
// store write. The in-memory append always succeeds.
func (l *Log) Append(ev Event) {
	l.mu.Lock()
	l.events[ev.AgentID] = append(l.events[ev.AgentID], ev)
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	if l.syncPersist {
		l.persist(ev)
		return
	}
	go l.persist(ev)
}

func (l *Log) persist(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.store.Append(ctx, ev); err != nil {
		slog.Error("failed to persist trust event", "agent_id", ev.AgentID, "type", ev.Type, "error", err)
	}
}

// Events returns a copy of the ordered event history for an agent.
func (l *Log) Events(agentID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.events[agentID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Len returns the number of events recorded for an agent.
func (l *Log) Len(agentID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events[agentID])
}
