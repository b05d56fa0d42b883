// Package killswitch implements the emergency stop: a synchronous global
// admission flag plus asynchronous mass termination of registered agents.
// Actions already in flight are never cancelled; they drain on their own.
package killswitch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/audit"
	"github.com/ahutchings/warden/internal/inflight"
)

const stateKey = "kill_switch"

// ConfigStore persists small named state blobs. A nil store keeps the switch
// memory-only.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// State is the externally visible switch state.
type State struct {
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// Switch is the process-wide kill switch. The flag flip is synchronous and
// observed by the next admission check; the termination sweep runs in the
// background.
type Switch struct {
	mu    sync.RWMutex
	state State

	store    ConfigStore
	registry *agent.Registry
	tracker  *inflight.Tracker
	audit    audit.Sink
	now      func() time.Time

	// sweepDone is closed when the termination sweep finishes. Tests wait
	// on it.
	sweepDone chan struct{}
}

// New creates an inactive switch.
func New(store ConfigStore, registry *agent.Registry, tracker *inflight.Tracker, sink audit.Sink) *Switch {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Switch{
		store:    store,
		registry: registry,
		tracker:  tracker,
		audit:    sink,
		now:      time.Now,
	}
}

// SetClock injects a deterministic time source for tests.
func (s *Switch) SetClock(now func() time.Time) {
	s.now = now
}

// Load restores persisted switch state. A missing or unreadable record leaves
// the switch inactive: admission keeps flowing, and the gap is logged rather
// than guessed at.
func (s *Switch) Load(ctx context.Context) {
	if s.store == nil {
		return
	}
	raw, ok, err := s.store.Get(ctx, stateKey)
	if err != nil {
		slog.Warn("kill switch state unavailable, starting inactive", "error", err)
		return
	}
	if !ok {
		return
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		slog.Warn("kill switch state corrupt, starting inactive", "error", err)
		return
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if st.Active {
		slog.Warn("kill switch restored in active state", "reason", st.Reason)
	}
}

// Active reports whether the switch is engaged. Called on every admission
// check.
func (s *Switch) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Active
}

// Status returns the full switch state.
func (s *Switch) Status() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Activate engages the switch. The admission flag flips before this returns;
// the mass termination of registered agents runs asynchronously. Activating
// an already active switch is a no-op.
func (s *Switch) Activate(ctx context.Context, reason string) State {
	s.mu.Lock()
	if s.state.Active {
		st := s.state
		s.mu.Unlock()
		return st
	}
	now := s.now()
	s.state = State{Active: true, Reason: reason, ActivatedAt: &now}
	st := s.state
	s.sweepDone = make(chan struct{})
	done := s.sweepDone
	s.mu.Unlock()

	total, perAgent := s.tracker.Snapshot()
	s.audit.Record(audit.Event{
		Type:             audit.EventKillSwitchActivated,
		Reason:           reason,
		Timestamp:        now,
		InFlightTotal:    total,
		InFlightPerAgent: perAgent,
	})
	slog.Warn("kill switch activated", "reason", reason, "in_flight", total)

	s.persist(ctx, st)
	go s.terminateAll(reason, now, done)

	return st
}

// Deactivate disengages the switch. Agents terminated by the sweep stay
// terminated; re-enabling them is an explicit per-agent operation.
func (s *Switch) Deactivate(ctx context.Context) State {
	s.mu.Lock()
	if !s.state.Active {
		st := s.state
		s.mu.Unlock()
		return st
	}
	s.state = State{}
	st := s.state
	s.mu.Unlock()

	now := s.now()
	s.audit.Record(audit.Event{Type: audit.EventKillSwitchDeactivated, Timestamp: now})
	slog.Info("kill switch deactivated")

	s.persist(ctx, st)
	return st
}

// WaitForSweep blocks until the most recent termination sweep completes.
// For tests.
func (s *Switch) WaitForSweep() {
	s.mu.RLock()
	done := s.sweepDone
	s.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (s *Switch) terminateAll(reason string, now time.Time, done chan struct{}) {
	defer close(done)

	terminated := 0
	for _, rec := range s.registry.All() {
		if rec.Status == agent.StatusTerminated {
			continue
		}
		rec.Terminate("kill switch: "+reason, now)
		terminated++
		s.registry.ScheduleWrite(rec)
		s.audit.Record(audit.Event{
			Type:      audit.EventTermination,
			AgentID:   rec.ID,
			Reason:    "kill switch: " + reason,
			Timestamp: now,
		})
	}
	slog.Warn("kill switch sweep complete", "terminated", terminated)
}

func (s *Switch) persist(ctx context.Context, st State) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		slog.Error("failed to encode kill switch state", "error", err)
		return
	}
	if err := s.store.Set(ctx, stateKey, string(raw)); err != nil {
		slog.Error("failed to persist kill switch state", "error", err)
	}
}
