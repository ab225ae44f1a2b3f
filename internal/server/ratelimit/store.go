package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/loginfailures"
)

// StoreLimiter keeps counters in the login_failures table.
type StoreLimiter struct {
	repo   loginfailures.Repository
	policy Policy
}

func NewStoreLimiter(repo loginfailures.Repository, p Policy) *StoreLimiter {
	return &StoreLimiter{repo: repo, policy: p.normalized()}
}

func (l *StoreLimiter) Check(ctx context.Context, key string, now time.Time) (Decision, error) {
	f, err := l.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return Decision{}, nil
		}
		return Decision{}, err
	}
	return l.policy.decide(f.FailCount, f.LastFail, now), nil
}

func (l *StoreLimiter) Fail(ctx context.Context, key string, now time.Time) (int, error) {
	return l.repo.RecordFailure(ctx, key, now, now.Add(-l.policy.Window))
}

func (l *StoreLimiter) Reset(ctx context.Context, key string) error {
	return l.repo.Clear(ctx, key)
}

func (l *StoreLimiter) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return l.repo.DeleteOlderThan(ctx, now.Add(-l.policy.Window))
}
