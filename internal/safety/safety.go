// Package safety screens action text for threat indicators before admission.
// The admission controller consumes the Screener interface; the default
// implementation is a substring rule set over normalized input.
package safety

import (
	"context"
	"strings"
)

// Verdict is the threat level assigned to a piece of action text.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictLow
	VerdictMedium
	VerdictHigh
	VerdictCritical
)

func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictLow:
		return "low"
	case VerdictMedium:
		return "medium"
	case VerdictHigh:
		return "high"
	case VerdictCritical:
		return "critical"
	}
	return "unknown"
}

// Screener analyses action text and returns a verdict plus the identifiers of
// the rules that matched.
type Screener interface {
	Screen(ctx context.Context, text string) (Verdict, []string, error)
}

// rule is a single detection pattern with a score contribution. Only the
// first match per category counts.
type rule struct {
	category string
	pattern  string
	weight   int
}

var defaultRules = []rule{
	{"instruction_override", "ignore previous instructions", 40},
	{"instruction_override", "ignore all previous", 40},
	{"instruction_override", "disregard above", 40},
	{"instruction_override", "forget everything", 40},
	{"instruction_override", "new instructions:", 40},
	{"instruction_override", "system prompt:", 40},
	{"role_hijacking", "you are now", 35},
	{"role_hijacking", "pretend to be", 35},
	{"role_hijacking", "act as if", 35},
	{"role_hijacking", "from now on you are", 35},
	{"jailbreak", "jailbreak", 50},
	{"jailbreak", "do anything now", 50},
	{"jailbreak", "developer mode", 50},
	{"jailbreak", "no restrictions", 50},
	{"jailbreak", "bypass filters", 50},
	{"jailbreak", "ignore safety", 50},
	{"code_injection", "execute code", 30},
	{"code_injection", "eval(", 30},
	{"code_injection", "exec(", 30},
	{"code_injection", "system(", 30},
	{"code_injection", "subprocess", 30},
}

// RuleScreener is the default pattern-based screener.
type RuleScreener struct {
	rules []rule
}

// NewRuleScreener creates a screener with the built-in rule set.
func NewRuleScreener() *RuleScreener {
	return &RuleScreener{rules: defaultRules}
}

// Screen scores the text against the rule set. One match per category
// contributes its weight; the aggregate score maps to a verdict band.
func (s *RuleScreener) Screen(_ context.Context, text string) (Verdict, []string, error) {
	normalized := strings.ToLower(text)

	score := 0
	var matched []string
	seen := make(map[string]bool)

	for _, r := range s.rules {
		if seen[r.category] {
			continue
		}
		if strings.Contains(normalized, r.pattern) {
			seen[r.category] = true
			score += r.weight
			matched = append(matched, r.category)
		}
	}

	return verdictFor(score), matched, nil
}

// verdictFor maps an aggregate score to a verdict band.
func verdictFor(score int) Verdict {
	switch {
	case score <= 10:
		return VerdictNone
	case score <= 30:
		return VerdictLow
	case score <= 50:
		return VerdictMedium
	case score <= 75:
		return VerdictHigh
	default:
		return VerdictCritical
	}
}

// NopScreener allows everything. Useful when screening is disabled.
type NopScreener struct{}

func (NopScreener) Screen(context.Context, string) (Verdict, []string, error) {
	return VerdictNone, nil, nil
}
