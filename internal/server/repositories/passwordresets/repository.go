// Package passwordresets stores one-time reset tokens by keyed hash.
package passwordresets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

type Repository interface {
	// Create inserts the reset row and fills ID.
	Create(ctx context.Context, r *models.PasswordReset) error

	// FindByHash returns the reset with the user's email, or common.ErrorNotFound.
	FindByHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error)

	// ListRecent returns the user's latest resets, newest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.PasswordReset, error)

	// MarkUsed sets used_at if the row is still unused and unexpired at now.
	// It reports false when another request consumed it first.
	MarkUsed(ctx context.Context, id int64, userID string, now time.Time) (bool, error)

	// Delete removes a single reset row, used when its link could not be sent.
	Delete(ctx context.Context, id int64) error

	// DeleteStale removes used resets and resets expired before now.
	DeleteStale(ctx context.Context, now time.Time) (int64, error)
}
