// Package tenants stores the organizations that own users and proposals.
package tenants

import (
	"context"

	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

type Repository interface {
	// GetByName matches case-insensitively on the normalized name.
	GetByName(ctx context.Context, name string) (*models.Tenant, error)
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	// Create returns common.ErrorAlreadyExists when the name is taken.
	Create(ctx context.Context, name string) (*models.Tenant, error)
}
