package agent

import (
	"fmt"
	"math"
	"time"
)

// Status is the lifecycle state of an agent record. RATE_LIMITED and
// BUDGET_EXCEEDED are transient admission overlays; SUSPENDED and TERMINATED
// are lifecycle states proper. TERMINATED is absorbing.
type Status string

const (
	StatusActive         Status = "ACTIVE"
	StatusSuspended      Status = "SUSPENDED"
	StatusRateLimited    Status = "RATE_LIMITED"
	StatusBudgetExceeded Status = "BUDGET_EXCEEDED"
	StatusTerminated     Status = "TERMINATED"
)

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusSuspended, StatusRateLimited, StatusBudgetExceeded, StatusTerminated:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

// transitions is the allowed state machine. The overlay states RATE_LIMITED
// and BUDGET_EXCEEDED are entered only from ACTIVE and cleared back to ACTIVE
// (on next recorded success and on period rollover respectively). The
// violation latch may suspend an agent from any non-terminal state.
var transitions = map[Status][]Status{
	StatusActive:         {StatusSuspended, StatusRateLimited, StatusBudgetExceeded, StatusTerminated},
	StatusSuspended:      {StatusActive, StatusTerminated},
	StatusRateLimited:    {StatusActive, StatusSuspended, StatusTerminated},
	StatusBudgetExceeded: {StatusActive, StatusSuspended, StatusTerminated},
	StatusTerminated:     {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Budget is the per-period resource cap for an agent.
type Budget struct {
	MaxTokens   int64         `json:"max_tokens"`
	MaxAPICalls int64         `json:"max_api_calls"`
	MaxCostUSD  float64       `json:"max_cost_usd"`
	Period      time.Duration `json:"period_seconds"`
}

// Usage is the consumption booked against the current budget period.
type Usage struct {
	TokensUsed   int64     `json:"tokens_used"`
	APICallsUsed int64     `json:"api_calls_used"`
	CostUSD      float64   `json:"cost_usd"`
	PeriodStart  time.Time `json:"period_start"`
}

// Reputation is the coarse admission-facing projection of the agent's trust
// state. Score is on the 0-1000 scale; the authoritative fine-grained score
// lives in the trust event ledger.
type Reputation struct {
	Score             int       `json:"score"`
	SuccessfulActions int64     `json:"successful_actions"`
	FailedActions     int64     `json:"failed_actions"`
	Violations        int       `json:"violations"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Record is the admission-facing view of a registered agent.
type Record struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Version           string     `json:"version"`
	Status            Status     `json:"status"`
	Budget            Budget     `json:"budget"`
	Usage             Usage      `json:"usage"`
	Reputation        Reputation `json:"reputation"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActiveAt      time.Time  `json:"last_active_at"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty"`
}

// Clone returns a deep copy suitable for handing to the replicator while the
// in-memory record keeps mutating.
func (r *Record) Clone() *Record {
	cp := *r
	if r.TerminatedAt != nil {
		t := *r.TerminatedAt
		cp.TerminatedAt = &t
	}
	return &cp
}

const (
	// DefaultScore is the coarse score assigned to newly provisioned agents.
	DefaultScore = 500

	minCoarseScore = 0
	maxCoarseScore = 1000
)

// CoarseScore converts a fine-grained 0-100 trust score to the coarse 0-1000
// admission scale. This is the single conversion point between the two
// representations; do not duplicate the arithmetic elsewhere.
func CoarseScore(fine float64) int {
	c := int(math.Round(fine * 10))
	if c < minCoarseScore {
		return minCoarseScore
	}
	if c > maxCoarseScore {
		return maxCoarseScore
	}
	return c
}

// FineScore converts a coarse 0-1000 score back to the fine 0-100 scale.
func FineScore(coarse int) float64 {
	return float64(coarse) / 10
}

// NewRecord creates an agent record with the given default budget, status
// ACTIVE, and the default reputation score.
func NewRecord(id, name, version string, budget Budget, now time.Time) *Record {
	return &Record{
		ID:      id,
		Name:    name,
		Version: version,
		Status:  StatusActive,
		Budget:  budget,
		Usage: Usage{
			PeriodStart: now,
		},
		Reputation: Reputation{
			Score:       DefaultScore,
			LastUpdated: now,
		},
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Terminate marks the record terminated with the given reason. It is a no-op
// when the record is already terminated; termination is one-way.
func (r *Record) Terminate(reason string, now time.Time) {
	if r.Status == StatusTerminated {
		return
	}
	r.Status = StatusTerminated
	t := now
	r.TerminatedAt = &t
	r.TerminationReason = reason
}
