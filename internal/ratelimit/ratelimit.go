package ratelimit

import (
	"sync"
	"time"
)

// window tracks the request count for a single key's current fixed window.
type window struct {
	start time.Time
	count int
	limit int
}

// Limiter implements a fixed-window request counter keyed by arbitrary string
// identifiers (e.g. agent ID). The first request in a window, or a request
// after the window expired, starts a fresh window with count 1.
type Limiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	defaultLimit int
	length       time.Duration
	now          func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows defaultLimit requests per window.
func New(defaultLimit int, length time.Duration) *Limiter {
	return &Limiter{
		windows:      make(map[string]*window),
		defaultLimit: defaultLimit,
		length:       length,
		now:          time.Now,
	}
}

// SetClock injects a deterministic time source for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// effectiveLimit returns customLimit if positive, otherwise the default.
func (l *Limiter) effectiveLimit(customLimit int) int {
	if customLimit > 0 {
		return customLimit
	}
	return l.defaultLimit
}

// Allow checks whether a request identified by key is permitted. If
// customLimit is positive it overrides the default limit for this key.
// Counting and the allow decision happen in one step: the request is counted
// even when it is rejected.
func (l *Limiter) Allow(key string, customLimit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.effectiveLimit(customLimit)
	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.length {
		l.windows[key] = &window{start: now, count: 1, limit: limit}
		return true
	}

	w.limit = limit
	w.count++
	return w.count <= limit
}

// Status returns the current state for key: the limit, the requests remaining
// in the current window, and when the window resets. A key with no live
// window reports a full allowance.
func (l *Limiter) Status(key string, customLimit int) (limit int, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit = l.effectiveLimit(customLimit)
	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.length {
		return limit, limit, now
	}

	remaining = limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return limit, remaining, w.start.Add(l.length)
}

// Reset drops the live window for key. Used when a sticky rate-limit status
// clears so the agent starts from a clean allowance.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}
