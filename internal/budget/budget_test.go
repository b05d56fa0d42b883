package budget

import (
	"testing"
	"time"

	"github.com/ahutchings/warden/internal/agent"
)

func testBudget() agent.Budget {
	return agent.Budget{
		MaxTokens:   1000,
		MaxAPICalls: 100,
		MaxCostUSD:  10,
		Period:      24 * time.Hour,
	}
}

func TestCheckProjectedUsage(t *testing.T) {
	b := agent.Budget{MaxTokens: 100, MaxAPICalls: 10, MaxCostUSD: 1, Period: time.Hour}
	u := agent.Usage{}

	// Nothing consumed yet, but the estimate alone blows the token budget.
	ok, dim := Check(b, u, Estimate{Tokens: 150})
	if ok {
		t.Fatal("expected denial for projected token overrun")
	}
	if dim != DimTokens {
		t.Errorf("exceeded dimension = %s, want tokens", dim)
	}
}

func TestCheckOrderTokensFirst(t *testing.T) {
	// Both tokens and cost would be exceeded; tokens must win.
	b := agent.Budget{MaxTokens: 10, MaxAPICalls: 10, MaxCostUSD: 1}
	ok, dim := Check(b, agent.Usage{}, Estimate{Tokens: 50, CostUSD: 50})
	if ok || dim != DimTokens {
		t.Errorf("got ok=%v dim=%s, want denial on tokens", ok, dim)
	}
}

func TestCheckAPICallProjection(t *testing.T) {
	b := agent.Budget{MaxAPICalls: 2}
	u := agent.Usage{APICallsUsed: 2}

	ok, dim := Check(b, u, Estimate{})
	if ok || dim != DimAPICalls {
		t.Errorf("got ok=%v dim=%s, want denial on api_calls", ok, dim)
	}
}

func TestCheckCostProjection(t *testing.T) {
	b := agent.Budget{MaxCostUSD: 5}
	u := agent.Usage{CostUSD: 4.5}

	ok, dim := Check(b, u, Estimate{CostUSD: 1})
	if ok || dim != DimCost {
		t.Errorf("got ok=%v dim=%s, want denial on cost", ok, dim)
	}
}

func TestCheckZeroLimitIsUnlimited(t *testing.T) {
	ok, _ := Check(agent.Budget{}, agent.Usage{TokensUsed: 1 << 40}, Estimate{Tokens: 1 << 40})
	if !ok {
		t.Error("zero limits should never deny")
	}
}

func TestBook(t *testing.T) {
	u := agent.Usage{}

	Book(&u, Actual{Tokens: 100, CostUSD: 0.25})
	if u.APICallsUsed != 1 {
		t.Errorf("api calls = %d, want 1", u.APICallsUsed)
	}
	if u.TokensUsed != 100 {
		t.Errorf("tokens = %d, want 100", u.TokensUsed)
	}
	if u.CostUSD != 0.25 {
		t.Errorf("cost = %v, want 0.25", u.CostUSD)
	}

	// Zero actuals still count the call.
	Book(&u, Actual{})
	if u.APICallsUsed != 2 {
		t.Errorf("api calls = %d, want 2", u.APICallsUsed)
	}
	if u.TokensUsed != 100 {
		t.Errorf("tokens should be unchanged, got %d", u.TokensUsed)
	}
}

func TestRolloverDue(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := agent.Budget{Period: time.Hour}
	u := agent.Usage{PeriodStart: start}

	if RolloverDue(b, u, start.Add(time.Hour)) {
		t.Error("rollover exactly at boundary should not be due")
	}
	if !RolloverDue(b, u, start.Add(time.Hour+time.Second)) {
		t.Error("rollover past boundary should be due")
	}
	if RolloverDue(agent.Budget{}, u, start.Add(1000*time.Hour)) {
		t.Error("zero period never rolls over")
	}
}

func TestReset(t *testing.T) {
	now := time.Now()
	u := agent.Usage{TokensUsed: 500, APICallsUsed: 10, CostUSD: 3, PeriodStart: now.Add(-48 * time.Hour)}

	Reset(&u, now)
	if u.TokensUsed != 0 || u.APICallsUsed != 0 || u.CostUSD != 0 {
		t.Errorf("usage not cleared: %+v", u)
	}
	if !u.PeriodStart.Equal(now) {
		t.Errorf("period start = %v, want %v", u.PeriodStart, now)
	}
}

func TestSnapshot(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testBudget()
	u := agent.Usage{TokensUsed: 100, APICallsUsed: 1, CostUSD: 0.5, PeriodStart: start}

	rem := Snapshot(b, u)
	if rem.Tokens != 900 {
		t.Errorf("remaining tokens = %d, want 900", rem.Tokens)
	}
	if rem.APICalls != 99 {
		t.Errorf("remaining api calls = %d, want 99", rem.APICalls)
	}
	if rem.CostUSD != 9.5 {
		t.Errorf("remaining cost = %v, want 9.5", rem.CostUSD)
	}
	if !rem.PeriodResetAt.Equal(start.Add(24 * time.Hour)) {
		t.Errorf("reset at = %v", rem.PeriodResetAt)
	}
}

func TestSnapshotFloorsAtZero(t *testing.T) {
	b := agent.Budget{MaxTokens: 10, MaxCostUSD: 1}
	u := agent.Usage{TokensUsed: 50, CostUSD: 2}

	rem := Snapshot(b, u)
	if rem.Tokens != 0 || rem.CostUSD != 0 {
		t.Errorf("remaining should floor at zero: %+v", rem)
	}
}
