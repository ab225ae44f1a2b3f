// Package ratelimit throttles repeated authentication failures per normalized
// identity. Callers never talk to the failure store directly.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultWindow    = 5 * time.Minute
)

// Decision is the outcome of a Check.
type Decision struct {
	Locked     bool
	RetryAfter time.Duration
}

type Limiter interface {
	// Check reports whether key is currently locked out.
	Check(ctx context.Context, key string, now time.Time) (Decision, error)
	// Fail records one failure for key at now and returns the running count.
	Fail(ctx context.Context, key string, now time.Time) (int, error)
	// Reset forgets all failures for key.
	Reset(ctx context.Context, key string) error
	// Sweep drops state that can no longer lock anyone out.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Policy locks a key once Threshold failures have happened and the latest of
// them is less than Window old.
type Policy struct {
	Threshold int
	Window    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Window: DefaultWindow}
}

func (p Policy) normalized() Policy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

func (p Policy) decide(count int, lastFail, now time.Time) Decision {
	if count < p.Threshold {
		return Decision{}
	}
	until := lastFail.Add(p.Window)
	if !now.Before(until) {
		return Decision{}
	}
	return Decision{Locked: true, RetryAfter: until.Sub(now)}
}
