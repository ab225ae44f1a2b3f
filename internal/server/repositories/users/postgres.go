package users

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

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (tenant_id, email, password_hash, role, is_active)
		 VALUES ($1, lower($2), $3, $4, $5)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.TenantID, user.Email, user.PasswordHash, user.Role, user.IsActive).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const selectUser = `SELECT id, COALESCE(tenant_id::text, ''), email, password_hash, role, is_active, created_at FROM users`

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := selectUser + `
		 WHERE lower(email) = lower($1)
		 LIMIT 1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := selectUser + `
		 WHERE id = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.Role, &user.IsActive, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) CountInTenant(ctx context.Context, tenantID string) (int, error) {
	query :=
		`SELECT COUNT(*) FROM users
		 WHERE tenant_id = $1
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	query :=
		`UPDATE users SET password_hash = $1
		 WHERE id = $2
		 `
	return r.execOne(ctx, query, hash, userID)
}

func (r *PostgresRepository) SetActive(ctx context.Context, userID string, active bool) error {
	query :=
		`UPDATE users SET is_active = $1
		 WHERE id = $2
		 `
	return r.execOne(ctx, query, active, userID)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
