package trust

import (
	"time"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/audit"
)

const (
	// endorsementGateFine is the fine-scale score an endorser needs before
	// its endorsements count. Below it, endorsements are silently dropped.
	endorsementGateFine = 50.0

	// violationSuspendThreshold is the violation count that latches an agent
	// into SUSPENDED. The latch fires exactly once.
	violationSuspendThreshold = 3
)

// MetricsRecorder receives trust engine metrics. A nil recorder disables
// them.
type MetricsRecorder interface {
	IncRecomputation()
	IncEndorsementDropped()
}

// Engine owns the event-sourced reputation state: it appends outcome events,
// recomputes the fine-grained score, and refreshes the coarse projection on
// the registry record.
type Engine struct {
	log      *Log
	registry *agent.Registry
	audit    audit.Sink
	metrics  MetricsRecorder
	now      func() time.Time
}

// NewEngine creates a reputation engine over the given ledger and registry.
func NewEngine(log *Log, registry *agent.Registry, sink audit.Sink) *Engine {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Engine{
		log:      log,
		registry: registry,
		audit:    sink,
		now:      time.Now,
	}
}

// SetClock injects a deterministic time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetMetrics attaches a metrics recorder.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// RecordRegistration appends the REGISTRATION event that anchors account age.
func (e *Engine) RecordRegistration(agentID string) {
	e.log.Append(NewEvent(agentID, EventRegistration, DeltaRegistration, "agent registered", e.now()))
}

// ScoreFor recomputes the current trust score from the agent's full history.
func (e *Engine) ScoreFor(agentID string) Score {
	return Compute(agentID, e.log.Events(agentID), e.now())
}

// Events returns the ordered event history for an agent.
func (e *Engine) Events(agentID string) []Event {
	return e.log.Events(agentID)
}

// RecordSuccess appends a transaction success and refreshes the projection.
// responseTimeMs is optional and feeds the response-time factor when present.
func (e *Engine) RecordSuccess(agentID string, responseTimeMs *int64) (Score, error) {
	rec, err := e.registry.Get(agentID)
	if err != nil {
		return Score{}, err
	}

	ev := NewEvent(agentID, EventTransactionSuccess, DeltaTransactionSuccess, "action completed", e.now())
	ev.ResponseTimeMs = responseTimeMs
	e.log.Append(ev)

	rec.Reputation.SuccessfulActions++
	return e.project(rec), nil
}

// RecordFailure appends a transaction failure with its fixed penalty
// weighting and refreshes the projection.
func (e *Engine) RecordFailure(agentID, reason string) (Score, error) {
	rec, err := e.registry.Get(agentID)
	if err != nil {
		return Score{}, err
	}

	e.log.Append(NewEvent(agentID, EventTransactionFailure, DeltaTransactionFailure, reason, e.now()))

	rec.Reputation.FailedActions++
	return e.project(rec), nil
}

// RecordViolation appends a policy violation with its larger fixed penalty.
// Reaching the violation threshold latches the agent into SUSPENDED,
// independent of its numeric score; the latch does not re-fire on further
// violations.
func (e *Engine) RecordViolation(agentID, reason string) (Score, error) {
	rec, err := e.registry.Get(agentID)
	if err != nil {
		return Score{}, err
	}

	now := e.now()
	e.log.Append(NewEvent(agentID, EventPolicyViolation, DeltaPolicyViolation, reason, now))
	e.audit.Record(audit.Event{Type: audit.EventViolation, AgentID: agentID, Reason: reason, Timestamp: now})

	rec.Reputation.Violations++
	if rec.Reputation.Violations == violationSuspendThreshold &&
		agent.CanTransition(rec.Status, agent.StatusSuspended) {
		rec.Status = agent.StatusSuspended
		e.audit.Record(audit.Event{
			Type:      audit.EventSuspension,
			AgentID:   agentID,
			Reason:    "violation threshold reached",
			Timestamp: now,
		})
	}

	return e.project(rec), nil
}

// Endorse appends a peer endorsement for endorseeID, gated on the endorsing
// agent's own standing: an endorser whose fine score is below the gate is
// silently dropped, leaving no event and no change. Returns whether the
// endorsement was accepted.
func (e *Engine) Endorse(endorserID, endorseeID, reason string) (bool, error) {
	endorser, err := e.registry.Get(endorserID)
	if err != nil {
		return false, err
	}
	endorsee, err := e.registry.Get(endorseeID)
	if err != nil {
		return false, err
	}

	if agent.FineScore(endorser.Reputation.Score) < endorsementGateFine {
		if e.metrics != nil {
			e.metrics.IncEndorsementDropped()
		}
		return false, nil
	}

	ev := NewEvent(endorseeID, EventPeerEndorsement, DeltaPeerEndorsement, reason, e.now())
	ev.RelatedAgentID = endorserID
	e.log.Append(ev)

	e.project(endorsee)
	return true, nil
}

// RecordCredentialVerified appends a credential-verification event, feeding
// the verified-credential factor.
func (e *Engine) RecordCredentialVerified(agentID string) (Score, error) {
	rec, err := e.registry.Get(agentID)
	if err != nil {
		return Score{}, err
	}

	e.log.Append(NewEvent(agentID, EventCredentialVerified, DeltaCredentialVerified, "credential verified", e.now()))
	return e.project(rec), nil
}

// project recomputes the fine score and refreshes the coarse cached
// projection on the record, scheduling a best-effort write-back.
func (e *Engine) project(rec *agent.Record) Score {
	s := Compute(rec.ID, e.log.Events(rec.ID), e.now())
	if e.metrics != nil {
		e.metrics.IncRecomputation()
	}
	rec.Reputation.Score = agent.CoarseScore(s.Score)
	rec.Reputation.LastUpdated = s.CalculatedAt
	e.registry.ScheduleWrite(rec)
	return s
}
