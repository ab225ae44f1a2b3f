// Package users declares the credential store: accounts keyed by a
// lower-cased email and scoped to a tenant.
package users

import (
	"context"

	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

type Repository interface {
	// Create inserts the user and fills ID and CreatedAt. A duplicate email
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetByEmail matches case-insensitively; common.ErrorNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	CountInTenant(ctx context.Context, tenantID string) (int, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	SetActive(ctx context.Context, userID string, active bool) error
}
