// Package sessions declares the persistent session store. Rows are looked up
// by the keyed hash of the bearer token; the token itself is never stored.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

// Repository defines operations for issuing, resolving and revoking sessions.
type Repository interface {
	// Create stores a new session row and fills ID.
	Create(ctx context.Context, s *models.Session) error

	// FindIdentity resolves an unexpired session of an active user.
	// Implementations return common.ErrorNotFound otherwise.
	FindIdentity(ctx context.Context, tokenHash string, now time.Time) (*models.Identity, error)

	// Delete revokes one session. Deleting an unknown hash is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteForUser revokes every session of the user.
	DeleteForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes sessions whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
