// Package inflight counts admitted-but-not-yet-completed actions per agent.
// The caller contract is exactly one outcome report per admitted action; a
// missing report leaks an in-flight slot, there is no automatic expiry.
package inflight

import "sync"

// Tracker is a per-agent counter of in-flight actions. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Inc records an admitted action for the agent.
func (t *Tracker) Inc(agentID string) {
	t.mu.Lock()
	t.counts[agentID]++
	t.mu.Unlock()
}

// Dec records a completed action for the agent. The count floors at 0 so a
// spurious outcome report cannot drive it negative.
func (t *Tracker) Dec(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[agentID] <= 1 {
		delete(t.counts, agentID)
		return
	}
	t.counts[agentID]--
}

// Count returns the in-flight count for a single agent.
func (t *Tracker) Count(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[agentID]
}

// Snapshot returns the total and a per-agent copy of the current counts,
// used for the kill-switch forensic record.
func (t *Tracker) Snapshot() (total int, perAgent map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	perAgent = make(map[string]int, len(t.counts))
	for id, n := range t.counts {
		perAgent[id] = n
		total += n
	}
	return total, perAgent
}
