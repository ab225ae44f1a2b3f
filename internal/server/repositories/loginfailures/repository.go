// Package loginfailures persists per-email authentication failure counters so
// lockouts survive restarts.
package loginfailures

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

type Repository interface {
	// Get returns the counter for email or common.ErrorNotFound.
	Get(ctx context.Context, email string) (*models.LoginFailures, error)

	// RecordFailure increments the counter and stamps last_fail = now. A counter
	// whose last failure is not after windowStart restarts at 1.
	RecordFailure(ctx context.Context, email string, now, windowStart time.Time) (int, error)

	Clear(ctx context.Context, email string) error

	// DeleteOlderThan drops counters whose last failure is before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
