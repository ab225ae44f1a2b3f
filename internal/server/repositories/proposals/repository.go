// Package proposals stores tenant-scoped production proposals. Proposals are
// addressed by payload._meta.name.
package proposals

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

type Repository interface {
	List(ctx context.Context, tenantID string) ([]models.ProposalSummary, error)
	FindByName(ctx context.Context, tenantID, name string) (*models.Proposal, error)
	CountNames(ctx context.Context, tenantID string) (int, error)
	// LockTenant serialises writers of one tenant until the surrounding
	// transaction ends. It must run inside a transaction.
	LockTenant(ctx context.Context, tenantID string) error
	Insert(ctx context.Context, p *models.Proposal) error
	UpdatePayload(ctx context.Context, id int64, payload json.RawMessage) error
	Delete(ctx context.Context, tenantID, name string) (int64, error)
	Rename(ctx context.Context, tenantID, oldName, newName string) (int64, error)
	SetStatus(ctx context.Context, tenantID, name, status string) (int64, error)
}
