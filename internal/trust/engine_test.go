package trust

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/audit"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(ev audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) ofType(t audit.EventType) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(clock *fakeClock) (*Engine, *agent.Registry, *recordingSink) {
	registry := agent.NewRegistry(nil)
	sink := &recordingSink{}
	engine := NewEngine(NewLog(nil), registry, sink)
	engine.SetClock(clock.Now)
	return engine, registry, sink
}

func registerAgent(engine *Engine, registry *agent.Registry, clock *fakeClock, id string) *agent.Record {
	rec := agent.NewRecord(id, id, "", agent.Budget{}, clock.Now())
	registry.Put(rec)
	engine.RecordRegistration(id)
	return rec
}

func TestNewAgentScoresFromDefaults(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "agent-1")

	s := engine.ScoreFor("agent-1")

	// No transactions: success and compliance rates default to 1.0. The
	// other factors start at zero.
	want := 100 * (0.30 + 0.25)
	if math.Abs(s.Score-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", s.Score, want)
	}
	if s.Level != LevelMedium {
		t.Fatalf("level = %v, want %v", s.Level, LevelMedium)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "agent-1")

	engine.RecordSuccess("agent-1", nil)
	engine.RecordFailure("agent-1", "timeout")
	engine.RecordSuccess("agent-1", nil)

	first := engine.ScoreFor("agent-1")
	second := engine.ScoreFor("agent-1")
	if first.Score != second.Score {
		t.Fatalf("recompute changed score without new events: %v != %v", first.Score, second.Score)
	}
	if first.TotalTransactions != 3 || first.FailedTransactions != 1 {
		t.Fatalf("transactions = %d/%d, want 3/1", first.TotalTransactions, first.FailedTransactions)
	}
}

func TestWeightedFactors(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "agent-1")
	endorser := registerAgent(engine, registry, clock, "endorser")
	endorser.Reputation.Score = 800

	// A year of age saturates the age factor.
	clock.Advance(365 * 24 * time.Hour)

	for i := 0; i < 8; i++ {
		if _, err := engine.RecordSuccess("agent-1", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := engine.RecordFailure("agent-1", "timeout"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RecordFailure("agent-1", "timeout"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		ok, err := engine.Endorse("endorser", "agent-1", "good peer")
		if err != nil || !ok {
			t.Fatalf("endorse %d: ok=%v err=%v", i, ok, err)
		}
	}
	if _, err := engine.RecordCredentialVerified("agent-1"); err != nil {
		t.Fatal(err)
	}

	s := engine.ScoreFor("agent-1")
	want := 100 * (0.30*0.8 + // 8 of 10 transactions succeeded
		0.25*1.0 + // no violations
		0.20*0.5 + // 5 of 10 endorsements
		0.15*1.0 + // age saturated
		0.10*(1.0/3.0)) // 1 of 3 credentials
	if math.Abs(s.Score-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", s.Score, want)
	}
}

func TestScoreProjectionOnRecord(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	rec := registerAgent(engine, registry, clock, "agent-1")

	s, err := engine.RecordSuccess("agent-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reputation.Score != agent.CoarseScore(s.Score) {
		t.Fatalf("coarse projection = %d, want %d", rec.Reputation.Score, agent.CoarseScore(s.Score))
	}
	if rec.Reputation.SuccessfulActions != 1 {
		t.Fatalf("successful actions = %d, want 1", rec.Reputation.SuccessfulActions)
	}
}

func TestResponseTimeFactor(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "agent-1")

	ms := func(v int64) *int64 { return &v }
	engine.RecordSuccess("agent-1", ms(100))
	engine.RecordSuccess("agent-1", ms(300))
	engine.RecordSuccess("agent-1", nil)

	s := engine.ScoreFor("agent-1")
	if s.Factors.AverageResponseTimeMs != 200 {
		t.Fatalf("avg response = %v, want 200", s.Factors.AverageResponseTimeMs)
	}
}

func TestViolationThresholdSuspends(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, sink := newTestEngine(clock)
	rec := registerAgent(engine, registry, clock, "agent-1")

	engine.RecordViolation("agent-1", "prompt injection")
	engine.RecordViolation("agent-1", "prompt injection")
	if rec.Status != agent.StatusActive {
		t.Fatalf("status after 2 violations = %v, want ACTIVE", rec.Status)
	}

	engine.RecordViolation("agent-1", "prompt injection")
	if rec.Status != agent.StatusSuspended {
		t.Fatalf("status after 3 violations = %v, want SUSPENDED", rec.Status)
	}
	if got := len(sink.ofType(audit.EventSuspension)); got != 1 {
		t.Fatalf("suspension audit events = %d, want 1", got)
	}

	// The latch fires once. A fourth violation records the event but does
	// not re-suspend.
	engine.RecordViolation("agent-1", "prompt injection")
	if got := len(sink.ofType(audit.EventSuspension)); got != 1 {
		t.Fatalf("suspension audit events after 4th violation = %d, want 1", got)
	}
	if got := len(sink.ofType(audit.EventViolation)); got != 4 {
		t.Fatalf("violation audit events = %d, want 4", got)
	}
}

func TestViolationLatchSkipsTerminated(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	rec := registerAgent(engine, registry, clock, "agent-1")
	rec.Terminate("kill switch", clock.Now())

	engine.RecordViolation("agent-1", "x")
	engine.RecordViolation("agent-1", "x")
	engine.RecordViolation("agent-1", "x")
	if rec.Status != agent.StatusTerminated {
		t.Fatalf("status = %v, want TERMINATED", rec.Status)
	}
}

func TestEndorsementGate(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "endorsee")
	weak := registerAgent(engine, registry, clock, "weak")
	strong := registerAgent(engine, registry, clock, "strong")
	weak.Reputation.Score = 499
	strong.Reputation.Score = 500

	ok, err := engine.Endorse("weak", "endorsee", "nice")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("endorsement from low-trust agent should be dropped")
	}
	if got := engine.ScoreFor("endorsee").Factors.PeerEndorsementCount; got != 0 {
		t.Fatalf("endorsements = %d, want 0", got)
	}

	ok, err = engine.Endorse("strong", "endorsee", "nice")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("endorsement from trusted agent should be accepted")
	}
	if got := engine.ScoreFor("endorsee").Factors.PeerEndorsementCount; got != 1 {
		t.Fatalf("endorsements = %d, want 1", got)
	}
}

func TestEndorseUnknownAgent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "endorser")

	if _, err := engine.Endorse("endorser", "ghost", "nice"); err != agent.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := engine.Endorse("ghost", "endorser", "nice"); err != agent.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestScoreClampedAtZero(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	engine, registry, _ := newTestEngine(clock)
	registerAgent(engine, registry, clock, "agent-1")

	for i := 0; i < 20; i++ {
		engine.RecordViolation("agent-1", "bad")
		engine.RecordFailure("agent-1", "bad")
	}

	s := engine.ScoreFor("agent-1")
	if s.Score < 0 {
		t.Fatalf("score = %v, want >= 0", s.Score)
	}
}
