package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Decision is the outcome of a single counter increment.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter increments a fixed-window counter and reports whether the
// post-increment count stays within the limit.
type Limiter interface {
	Allow(key string, limit int) Decision
}

// Result is the outcome of an ordered multi-key check. RetryAfter is the
// window length when a key was exceeded.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Check increments each key in order; the first key whose post-increment
// count exceeds the limit rejects the whole call, even if later keys in
// the list would still have headroom. Keys checked before the rejection
// keep their increments, matching fixed-window accounting.
func Check(l Limiter, keys []string, limit int, window time.Duration) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	for _, key := range keys {
		if d := l.Allow(key, limit); !d.Allowed {
			return Result{Allowed: false, RetryAfter: window}
		}
	}
	return Result{Allowed: true}
}

// InMemoryLimiter is the process-local fallback counter store.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]entry
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &InMemoryLimiter{
		window: window,
		items:  make(map[string]entry),
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(now)
	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		// Window expiry is set on the increment that creates the counter.
		curr = entry{count: 0, resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	remaining := limit - curr.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   curr.count <= limit,
		Count:     curr.count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   curr.resetAt,
	}
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}
