package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned by direct lookups for unknown agents.
var ErrNotFound = fmt.Errorf("agent not found")

// UpsertStore is the persistence interface consumed by the registry. The
// in-memory view stays authoritative; writes through this interface are
// best-effort replication.
type UpsertStore interface {
	LoadAll(ctx context.Context) ([]*Record, error)
	Upsert(ctx context.Context, rec *Record) error
}

// Writer receives record snapshots for asynchronous persistence. The registry
// never blocks on it.
type Writer interface {
	Enqueue(rec *Record)
}

// Registry is the single shared in-memory map of agent id to record. It is
// loaded from the store at startup, mutated in place by the admission path,
// and written back best-effort through the Writer. The mutex guards the map
// itself; concurrent mutation of the same record may interleave, which is an
// accepted approximation for the counters involved.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	writer  Writer
}

// NewRegistry creates an empty registry. A nil writer disables write-back.
func NewRegistry(writer Writer) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		writer:  writer,
	}
}

// Load populates the registry from the store. Invalid rows are skipped by the
// store itself; a load failure here is fatal to startup.
func (g *Registry) Load(ctx context.Context, store UpsertStore) error {
	recs, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading agent records: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range recs {
		g.records[rec.ID] = rec
	}
	slog.Info("agent registry loaded", "agents", len(recs))
	return nil
}

// Get returns the live record for id, or ErrNotFound.
func (g *Registry) Get(id string) (*Record, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// GetOrCreate returns the record for id, auto-provisioning one with the given
// defaults when the agent is unknown. The second return reports whether a new
// record was created.
func (g *Registry) GetOrCreate(id string, budget Budget, now time.Time) (*Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[id]; ok {
		return rec, false
	}
	rec := NewRecord(id, id, "", budget, now)
	g.records[id] = rec
	return rec, true
}

// Put inserts or replaces a record. Used by explicit registration.
func (g *Registry) Put(rec *Record) {
	g.mu.Lock()
	g.records[rec.ID] = rec
	g.mu.Unlock()
}

// All returns the live records. Callers iterate without further locking under
// the single-writer assumption.
func (g *Registry) All() []*Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Record, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of registered agents.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// ScheduleWrite hands a snapshot of the record to the writer. It never blocks
// and never fails from the caller's point of view.
func (g *Registry) ScheduleWrite(rec *Record) {
	if g.writer == nil {
		return
	}
	g.writer.Enqueue(rec.Clone())
}
