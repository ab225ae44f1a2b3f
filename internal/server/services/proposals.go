package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/repomanager"
)

const (
	DefaultProposalSlots = 6
	proposalSource       = "app-db"
)

// proposalMeta is stored under payload._meta and names the proposal.
type proposalMeta struct {
	Name   string `json:"name"`
	TS     string `json:"ts"`
	Source string `json:"source"`
}

// ProposalService stores named production proposals per tenant. A tenant
// holds at most slots distinct names.
type ProposalService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	slots       int
	log         logging.Logger
	now         func() time.Time
}

func NewProposalService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *ProposalService {
	slots := cfg.ProposalSlots
	if slots <= 0 {
		slots = DefaultProposalSlots
	}
	return &ProposalService{
		db:          db,
		repomanager: m,
		slots:       slots,
		log:         log.With("module", "proposals"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// requireTenant rejects accounts detached from their tenant, whose tenant
// id is empty once the tenant row is gone.
func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return common.ErrForbidden
	}
	return nil
}

// List returns the tenant's proposals, most recently updated first.
func (s *ProposalService) List(ctx context.Context, tenantID string) ([]models.ProposalSummary, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	out, err := s.repomanager.Proposals(s.db).List(ctx, tenantID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return out, nil
}

// Save creates or replaces the proposal called name. It reports whether a
// new slot was taken.
func (s *ProposalService) Save(ctx context.Context, id models.Identity, name string, payload json.RawMessage) (bool, error) {
	if err := requireTenant(id.TenantID); err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, common.NewValidationError("name", "name is required")
	}

	body, err := s.stamp(name, payload)
	if err != nil {
		return false, err
	}

	created := false
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Proposals(tx)
		if err := repo.LockTenant(ctx, id.TenantID); err != nil {
			return err
		}

		existing, err := repo.FindByName(ctx, id.TenantID, name)
		if err == nil {
			return repo.UpdatePayload(ctx, existing.ID, body)
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		n, err := repo.CountNames(ctx, id.TenantID)
		if err != nil {
			return err
		}
		if n >= s.slots {
			return common.NewValidationError("name", fmt.Sprintf("limit of %d proposals reached, delete or rename one", s.slots))
		}

		created = true
		return repo.Insert(ctx, &models.Proposal{
			TenantID:  id.TenantID,
			CreatedBy: id.UserID,
			Name:      name,
			Payload:   body,
			Status:    models.ProposalDraft,
		})
	})
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			return false, err
		}
		s.log.Error(ctx, "proposal save failed", "tenant_id", id.TenantID, "name", name, "error", err)
		return false, common.ErrorInternal
	}

	s.log.Info(ctx, "proposal saved", "tenant_id", id.TenantID, "name", name, "created", created)
	return created, nil
}

// stamp sets payload._meta, replacing whatever the client sent there.
func (s *ProposalService) stamp(name string, payload json.RawMessage) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
			return nil, common.NewValidationError("payload", "payload must be a JSON object")
		}
	}

	meta, err := json.Marshal(proposalMeta{
		Name:   name,
		TS:     s.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Source: proposalSource,
	})
	if err != nil {
		return nil, common.ErrorInternal
	}
	obj["_meta"] = meta

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return out, nil
}

// Load returns the stored payload of the proposal called name.
func (s *ProposalService) Load(ctx context.Context, tenantID, name string) (*models.Proposal, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	p, err := s.repomanager.Proposals(s.db).FindByName(ctx, tenantID, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}
	return p, nil
}

// Delete removes every row called name and reports whether any existed.
func (s *ProposalService) Delete(ctx context.Context, tenantID, name string) (bool, error) {
	if err := requireTenant(tenantID); err != nil {
		return false, err
	}
	n, err := s.repomanager.Proposals(s.db).Delete(ctx, tenantID, strings.TrimSpace(name))
	if err != nil {
		return false, common.ErrorInternal
	}
	if n > 0 {
		s.log.Info(ctx, "proposal deleted", "tenant_id", tenantID, "name", name)
	}
	return n > 0, nil
}

// Rename moves a proposal to a free name.
func (s *ProposalService) Rename(ctx context.Context, tenantID, oldName, newName string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return common.NewValidationError("name", "new name is required")
	}

	repo := s.repomanager.Proposals(s.db)

	if _, err := repo.FindByName(ctx, tenantID, newName); err == nil {
		return common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return common.ErrorInternal
	}

	n, err := repo.Rename(ctx, tenantID, oldName, newName)
	if err != nil {
		return common.ErrorInternal
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	s.log.Info(ctx, "proposal renamed", "tenant_id", tenantID, "from", oldName, "to", newName)
	return nil
}

// SetStatus moves a proposal through draft, validated, sent and archived.
func (s *ProposalService) SetStatus(ctx context.Context, tenantID, name, status string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if !models.ValidProposalStatus(status) {
		return common.NewValidationError("status", "unknown status")
	}
	n, err := s.repomanager.Proposals(s.db).SetStatus(ctx, tenantID, name, status)
	if err != nil {
		return common.ErrorInternal
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
