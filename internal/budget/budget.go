// Package budget implements rolling-period resource budgets for agents.
// Admission checks run against projected usage (current plus the caller's
// estimate); actual consumption is booked only when an outcome is reported.
package budget

import (
	"time"

	"github.com/ahutchings/warden/internal/agent"
)

// Dimension identifies which budget axis rejected a request.
type Dimension string

const (
	DimTokens   Dimension = "tokens"
	DimAPICalls Dimension = "api_calls"
	DimCost     Dimension = "cost"
)

// Estimate is the caller-supplied projection for a single action.
type Estimate struct {
	Tokens  int64
	CostUSD float64
}

// Actual is the measured consumption reported with a successful outcome.
// Tokens and CostUSD may legitimately be zero.
type Actual struct {
	Tokens  int64
	CostUSD float64
}

// Remaining is a point-in-time snapshot of budget headroom. It reflects
// booked usage only; in-flight estimates do not consume budget.
type Remaining struct {
	Tokens        int64     `json:"tokens"`
	APICalls      int64     `json:"api_calls"`
	CostUSD       float64   `json:"cost_usd"`
	PeriodResetAt time.Time `json:"period_reset_at"`
}

// RolloverDue reports whether the budget period has elapsed.
func RolloverDue(b agent.Budget, u agent.Usage, now time.Time) bool {
	if b.Period <= 0 {
		return false
	}
	return now.After(u.PeriodStart.Add(b.Period))
}

// Reset starts a fresh usage period at now.
func Reset(u *agent.Usage, now time.Time) {
	u.TokensUsed = 0
	u.APICallsUsed = 0
	u.CostUSD = 0
	u.PeriodStart = now
}

// Check evaluates projected usage against the budget in the fixed order
// tokens, then api calls, then cost. The first exceeded dimension rejects.
// A limit of 0 on a dimension means unlimited.
func Check(b agent.Budget, u agent.Usage, est Estimate) (ok bool, exceeded Dimension) {
	if b.MaxTokens > 0 && u.TokensUsed+est.Tokens > b.MaxTokens {
		return false, DimTokens
	}
	if b.MaxAPICalls > 0 && u.APICallsUsed+1 > b.MaxAPICalls {
		return false, DimAPICalls
	}
	if b.MaxCostUSD > 0 && u.CostUSD+est.CostUSD > b.MaxCostUSD {
		return false, DimCost
	}
	return true, ""
}

// Book records actual consumption for a completed action. The api call
// counter increments unconditionally; tokens and cost increment only by the
// measured amounts supplied by the caller.
func Book(u *agent.Usage, actual Actual) {
	u.APICallsUsed++
	u.TokensUsed += actual.Tokens
	u.CostUSD += actual.CostUSD
}

// Snapshot computes the remaining headroom for each dimension, floored at 0.
func Snapshot(b agent.Budget, u agent.Usage) Remaining {
	return Remaining{
		Tokens:        floorInt(b.MaxTokens - u.TokensUsed),
		APICalls:      floorInt(b.MaxAPICalls - u.APICallsUsed),
		CostUSD:       floorFloat(b.MaxCostUSD - u.CostUSD),
		PeriodResetAt: u.PeriodStart.Add(b.Period),
	}
}

func floorInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func floorFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
