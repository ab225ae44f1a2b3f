package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count    int
	lastFail time.Time
}

// MemoryLimiter is a process-local Limiter, used with LOCKOUT_STORE=memory.
// Counters do not survive a restart.
type MemoryLimiter struct {
	mu       sync.Mutex
	policy   Policy
	counters map[string]*counter
}

func NewMemoryLimiter(p Policy) *MemoryLimiter {
	return &MemoryLimiter{policy: p.normalized(), counters: make(map[string]*counter)}
}

func (l *MemoryLimiter) Check(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return Decision{}, nil
	}
	return l.policy.decide(c.count, c.lastFail, now), nil
}

func (l *MemoryLimiter) Fail(_ context.Context, key string, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !c.lastFail.After(now.Add(-l.policy.Window)) {
		c = &counter{}
		l.counters[key] = c
	}
	c.count++
	c.lastFail = now
	return c.count, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, key)
	return nil
}

func (l *MemoryLimiter) Sweep(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	cutoff := now.Add(-l.policy.Window)
	for k, c := range l.counters {
		if c.lastFail.Before(cutoff) {
			delete(l.counters, k)
			n++
		}
	}
	return n, nil
}
