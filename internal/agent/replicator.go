package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Upserter is the interface used by Replicator to persist record snapshots.
// It exists to allow testing without a real database.
type Upserter interface {
	Upsert(ctx context.Context, rec *Record) error
}

// FlushRecorder receives replicator metrics. A nil recorder disables them.
type FlushRecorder interface {
	SetReplicatorPending(n int)
	ObserveReplicatorFlush(ok bool)
}

// Replicator buffers record snapshots in memory and periodically writes them
// to the store. Writes are best-effort: failures are logged and swallowed, and
// the in-memory registry is never rolled back. It is safe for concurrent use.
type Replicator struct {
	store         Upserter
	mu            sync.Mutex
	pending       map[string]*Record // latest snapshot per agent wins
	flushInterval time.Duration
	done          chan struct{}
	metrics       FlushRecorder
}

// NewReplicator creates a Replicator that flushes pending snapshots every
// flushInterval.
func NewReplicator(store Upserter, flushInterval time.Duration) *Replicator {
	return &Replicator{
		store:         store,
		pending:       make(map[string]*Record),
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// SetMetrics attaches a flush recorder.
func (r *Replicator) SetMetrics(m FlushRecorder) {
	r.metrics = m
}

// Start begins a background goroutine that flushes pending snapshots on a
// timer. It blocks until Stop is called or the context is cancelled.
func (r *Replicator) Start(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush()
		case <-ctx.Done():
			r.Flush()
			return
		case <-r.done:
			r.Flush()
			return
		}
	}
}

// Enqueue records a snapshot for write-back. Later snapshots for the same
// agent supersede earlier ones that have not flushed yet.
func (r *Replicator) Enqueue(rec *Record) {
	r.mu.Lock()
	r.pending[rec.ID] = rec
	n := len(r.pending)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetReplicatorPending(n)
	}
}

// Flush synchronously drains all pending snapshots and writes them to the
// store. Errors are logged per record and swallowed. Tests call this directly
// to make assertions on persisted state deterministic.
func (r *Replicator) Flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = make(map[string]*Record)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok := true
	for _, rec := range batch {
		if err := r.store.Upsert(ctx, rec); err != nil {
			slog.Error("failed to replicate agent record", "agent_id", rec.ID, "error", err)
			ok = false
		}
	}
	if r.metrics != nil {
		r.metrics.ObserveReplicatorFlush(ok)
		r.metrics.SetReplicatorPending(0)
	}
}

// Stop signals the background goroutine to exit and performs a final flush.
func (r *Replicator) Stop() {
	close(r.done)
}
