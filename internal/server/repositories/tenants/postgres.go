package tenants

import (
	"context"
	"database/sql"
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

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	query :=
		`SELECT id, name, created_at FROM tenants
		 WHERE lower(name) = lower($1)
		 LIMIT 1
		 `
	return scan(r.db.QueryRowContext(ctx, query, name))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query :=
		`SELECT id, name, created_at FROM tenants
		 WHERE id = $1
		 `
	return scan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Create(ctx context.Context, name string) (*models.Tenant, error) {
	query :=
		`INSERT INTO tenants (name)
		 VALUES ($1)
		 RETURNING id, name, created_at
		 `
	t, err := scan(r.db.QueryRowContext(ctx, query, name))
	if err != nil && dbx.IsUniqueViolation(err) {
		return nil, common.ErrorAlreadyExists
	}
	return t, err
}

func scan(row *sql.Row) (*models.Tenant, error) {
	t := &models.Tenant{}
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}
