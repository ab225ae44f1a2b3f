package proposals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, tenantID string) ([]models.ProposalSummary, error) {
	query := `
		SELECT payload->'_meta'->>'name', status, updated_at
		FROM production_proposals
		WHERE tenant_id = $1
		ORDER BY updated_at DESC, created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := []models.ProposalSummary{}
	for rows.Next() {
		var s models.ProposalSummary
		var name sql.NullString
		if err := rows.Scan(&name, &s.Status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.Name = name.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) FindByName(ctx context.Context, tenantID, name string) (*models.Proposal, error) {
	query := `
		SELECT id, tenant_id, COALESCE(created_by::text, ''), payload, status, created_at, updated_at
		FROM production_proposals
		WHERE tenant_id = $1 AND payload->'_meta'->>'name' = $2
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1
	`
	p := &models.Proposal{Name: name}
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, name).
		Scan(&p.ID, &p.TenantID, &p.CreatedBy, &payload, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.Payload = payload
	return p, nil
}

func (r *PostgresRepository) CountNames(ctx context.Context, tenantID string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT payload->'_meta'->>'name')
		FROM production_proposals
		WHERE tenant_id = $1
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) LockTenant(ctx context.Context, tenantID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.db.ExecContext(ctx, query, tenantID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, p *models.Proposal) error {
	query := `
		INSERT INTO production_proposals (tenant_id, created_by, payload, status)
		VALUES ($1, NULLIF($2, '')::uuid, $3::jsonb, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, p.TenantID, p.CreatedBy, string(p.Payload), p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePayload(ctx context.Context, id int64, payload json.RawMessage) error {
	query := `
		UPDATE production_proposals
		SET payload = $1::jsonb
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, string(payload), id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, name string) (int64, error) {
	query := `
		DELETE FROM production_proposals
		WHERE tenant_id = $1 AND payload->'_meta'->>'name' = $2
	`
	return r.exec(ctx, query, tenantID, name)
}

func (r *PostgresRepository) Rename(ctx context.Context, tenantID, oldName, newName string) (int64, error) {
	query := `
		UPDATE production_proposals
		SET payload = jsonb_set(payload, '{_meta,name}', to_jsonb($3::text), true)
		WHERE tenant_id = $1 AND payload->'_meta'->>'name' = $2
	`
	return r.exec(ctx, query, tenantID, oldName, newName)
}

func (r *PostgresRepository) SetStatus(ctx context.Context, tenantID, name, status string) (int64, error) {
	query := `
		UPDATE production_proposals
		SET status = $3
		WHERE tenant_id = $1 AND payload->'_meta'->>'name' = $2
	`
	return r.exec(ctx, query, tenantID, name, status)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
