// Package admission is the decision core: every agent action passes through
// CheckAction before it runs, and reports its outcome afterwards. The checks
// run in a fixed order so a denial always names the first gate that failed.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/audit"
	"github.com/ahutchings/warden/internal/budget"
	"github.com/ahutchings/warden/internal/inflight"
	"github.com/ahutchings/warden/internal/killswitch"
	"github.com/ahutchings/warden/internal/ratelimit"
	"github.com/ahutchings/warden/internal/safety"
	"github.com/ahutchings/warden/internal/trust"
)

// Denial codes, one per gate.
const (
	DenyKillSwitch     = "KILL_SWITCH_ACTIVE"
	DenySuspended      = "AGENT_SUSPENDED"
	DenyTerminated     = "AGENT_TERMINATED"
	DenyRateLimited    = "RATE_LIMITED"
	DenyBudgetExceeded = "BUDGET_EXCEEDED"
	DenyLowTrust       = "INSUFFICIENT_TRUST"
	DenyUnsafeAction   = "UNSAFE_ACTION"
)

// Request describes one action an agent wants to perform.
type Request struct {
	AgentID    string          `json:"agent_id"`
	ActionType string          `json:"action_type"`
	Text       string          `json:"text,omitempty"`
	Estimate   budget.Estimate `json:"estimate"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed     bool              `json:"allowed"`
	Code        string            `json:"code,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	AgentStatus agent.Status      `json:"agent_status"`
	TrustScore  int               `json:"trust_score"`
	Remaining   *budget.Remaining `json:"remaining,omitempty"`
	Alerts      []string          `json:"alerts,omitempty"`
}

// Recorder receives admission metrics. A nil Recorder disables them.
type Recorder interface {
	ObserveDecision(allowed bool, code string)
	SetInFlight(total int)
}

// Controller evaluates admission requests and applies outcome reports. All
// state it touches is in memory; persistence happens through best-effort
// write-back and never blocks a decision.
type Controller struct {
	registry      *agent.Registry
	limiter       *ratelimit.Limiter
	killSwitch    *killswitch.Switch
	trust         *trust.Engine
	tracker       *inflight.Tracker
	screener      safety.Screener
	audit         audit.Sink
	metrics       Recorder
	defaultBudget agent.Budget
	minScore      int
	now           func() time.Time
}

// Options carries the controller's collaborators and policy knobs.
type Options struct {
	Registry      *agent.Registry
	Limiter       *ratelimit.Limiter
	KillSwitch    *killswitch.Switch
	Trust         *trust.Engine
	Tracker       *inflight.Tracker
	Screener      safety.Screener
	Audit         audit.Sink
	Metrics       Recorder
	DefaultBudget agent.Budget
	MinScore      int
}

// New creates an admission controller.
func New(opts Options) *Controller {
	if opts.Screener == nil {
		opts.Screener = safety.NopScreener{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.NopSink{}
	}
	return &Controller{
		registry:      opts.Registry,
		limiter:       opts.Limiter,
		killSwitch:    opts.KillSwitch,
		trust:         opts.Trust,
		tracker:       opts.Tracker,
		screener:      opts.Screener,
		audit:         opts.Audit,
		metrics:       opts.Metrics,
		defaultBudget: opts.DefaultBudget,
		minScore:      opts.MinScore,
		now:           time.Now,
	}
}

// SetClock injects a deterministic time source for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// CheckAction gates a single action. The gates run in a fixed order: kill
// switch, registration, lifecycle status, rate limit, budget rollover,
// projected budget, reputation floor, safety screen. A request that clears
// every gate is counted in flight until its outcome is reported.
func (c *Controller) CheckAction(ctx context.Context, req Request) Decision {
	now := c.now()

	if c.killSwitch != nil && c.killSwitch.Active() {
		// Every agent is reported TERMINATED while the switch is active,
		// matching the state the async sweep is driving them to.
		return c.deny(Decision{
			Code:        DenyKillSwitch,
			Reason:      "kill switch is active",
			AgentStatus: agent.StatusTerminated,
		}, req.AgentID)
	}

	rec, created := c.registry.GetOrCreate(req.AgentID, c.defaultBudget, now)
	if created {
		c.trust.RecordRegistration(req.AgentID)
		c.registry.ScheduleWrite(rec)
		slog.Info("auto-provisioned agent", "agent_id", req.AgentID)
	}

	switch rec.Status {
	case agent.StatusSuspended:
		return c.denyFor(rec, Decision{Code: DenySuspended, Reason: "agent is suspended"})
	case agent.StatusTerminated:
		return c.denyFor(rec, Decision{Code: DenyTerminated, Reason: "agent is terminated"})
	case agent.StatusRateLimited:
		// Sticky: set by an earlier burst and cleared only by the next
		// successful outcome, not by the window rolling over.
		return c.denyFor(rec, Decision{Code: DenyRateLimited, Reason: "agent is rate limited"})
	}

	if !c.limiter.Allow(req.AgentID, 0) {
		if agent.CanTransition(rec.Status, agent.StatusRateLimited) {
			rec.Status = agent.StatusRateLimited
			c.registry.ScheduleWrite(rec)
		}
		return c.denyFor(rec, Decision{Code: DenyRateLimited, Reason: "rate limit exceeded"})
	}

	if budget.RolloverDue(rec.Budget, rec.Usage, now) {
		budget.Reset(&rec.Usage, now)
		if rec.Status == agent.StatusBudgetExceeded {
			rec.Status = agent.StatusActive
		}
		c.registry.ScheduleWrite(rec)
	}
	if rec.Status == agent.StatusBudgetExceeded {
		remaining := budget.Snapshot(rec.Budget, rec.Usage)
		return c.denyFor(rec, Decision{
			Code:      DenyBudgetExceeded,
			Reason:    "budget period exhausted",
			Remaining: &remaining,
		})
	}

	if ok, dim := budget.Check(rec.Budget, rec.Usage, req.Estimate); !ok {
		if agent.CanTransition(rec.Status, agent.StatusBudgetExceeded) {
			rec.Status = agent.StatusBudgetExceeded
			c.registry.ScheduleWrite(rec)
		}
		remaining := budget.Snapshot(rec.Budget, rec.Usage)
		return c.denyFor(rec, Decision{
			Code:      DenyBudgetExceeded,
			Reason:    fmt.Sprintf("projected usage exceeds %s budget", dim),
			Remaining: &remaining,
		})
	}

	if rec.Reputation.Score < c.minScore {
		// A pure overlay: low trust denies admission without touching the
		// lifecycle status.
		return c.denyFor(rec, Decision{
			Code:   DenyLowTrust,
			Reason: fmt.Sprintf("suspended from new actions: trust score %d below minimum %d", rec.Reputation.Score, c.minScore),
		})
	}

	if req.Text != "" {
		verdict, matches, err := c.screener.Screen(ctx, req.Text)
		if err != nil {
			slog.Error("safety screen failed", "agent_id", req.AgentID, "error", err)
		} else {
			switch {
			case verdict >= safety.VerdictHigh:
				c.trust.RecordViolation(req.AgentID, "unsafe action blocked: "+joinMatches(matches))
				return c.denyFor(rec, Decision{
					Code:   DenyUnsafeAction,
					Reason: "action text matched threat indicators",
					Alerts: matches,
				})
			case verdict == safety.VerdictMedium:
				slog.Warn("suspicious action admitted", "agent_id", req.AgentID, "matches", matches)
			}
		}
	}

	rec.LastActiveAt = now
	c.tracker.Inc(req.AgentID)
	c.registry.ScheduleWrite(rec)
	c.observe(true, "")

	remaining := budget.Snapshot(rec.Budget, rec.Usage)
	return Decision{
		Allowed:     true,
		AgentStatus: rec.Status,
		TrustScore:  rec.Reputation.Score,
		Remaining:   &remaining,
	}
}

// RecordSuccess reports a completed action: the in-flight slot frees, actual
// consumption is booked, the trust ledger gains a success event, and a sticky
// rate limit clears.
func (c *Controller) RecordSuccess(agentID string, actual budget.Actual, responseTimeMs *int64) (*agent.Record, error) {
	rec, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	c.trackerDec(agentID)
	budget.Book(&rec.Usage, actual)

	if rec.Status == agent.StatusRateLimited && agent.CanTransition(rec.Status, agent.StatusActive) {
		rec.Status = agent.StatusActive
		c.limiter.Reset(agentID)
	}

	if _, err := c.trust.RecordSuccess(agentID, responseTimeMs); err != nil {
		return nil, err
	}
	c.registry.ScheduleWrite(rec)
	return rec, nil
}

// RecordFailure reports a failed action. Consumption is not booked; failures
// count against trust, not budget.
func (c *Controller) RecordFailure(agentID, reason string) (*agent.Record, error) {
	rec, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	c.trackerDec(agentID)
	if _, err := c.trust.RecordFailure(agentID, reason); err != nil {
		return nil, err
	}
	c.registry.ScheduleWrite(rec)
	return rec, nil
}

// RecordViolation reports that an admitted action turned out to violate
// policy. The trust engine applies the penalty and the suspension latch.
func (c *Controller) RecordViolation(agentID, reason string) (*agent.Record, error) {
	rec, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	c.trackerDec(agentID)
	if _, err := c.trust.RecordViolation(agentID, reason); err != nil {
		return nil, err
	}
	c.registry.ScheduleWrite(rec)
	return rec, nil
}

func (c *Controller) trackerDec(agentID string) {
	c.tracker.Dec(agentID)
	if c.metrics != nil {
		total, _ := c.tracker.Snapshot()
		c.metrics.SetInFlight(total)
	}
}

func (c *Controller) deny(d Decision, agentID string) Decision {
	d.Allowed = false
	c.audit.Record(audit.Event{
		Type:      audit.EventAdmissionDenied,
		AgentID:   agentID,
		Reason:    d.Code + ": " + d.Reason,
		Timestamp: c.now(),
	})
	c.observe(false, d.Code)
	return d
}

func (c *Controller) denyFor(rec *agent.Record, d Decision) Decision {
	d.AgentStatus = rec.Status
	d.TrustScore = rec.Reputation.Score
	return c.deny(d, rec.ID)
}

func (c *Controller) observe(allowed bool, code string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveDecision(allowed, code)
	if allowed {
		total, _ := c.tracker.Snapshot()
		c.metrics.SetInFlight(total)
	}
}

func joinMatches(matches []string) string {
	if len(matches) == 0 {
		return "unspecified"
	}
	out := matches[0]
	for _, m := range matches[1:] {
		out += ", " + m
	}
	return out
}
