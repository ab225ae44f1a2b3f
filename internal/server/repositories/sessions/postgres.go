package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO user_sessions (user_id, tenant_id, token_hash, expires_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, s.UserID, s.TenantID, s.TokenHash, s.ExpiresAt).Scan(&s.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindIdentity(ctx context.Context, tokenHash string, now time.Time) (*models.Identity, error) {
	query := `
		SELECT u.id, COALESCE(s.tenant_id::text, ''), u.email, u.role
		FROM user_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > $2 AND u.is_active
	`
	id := &models.Identity{}
	if err := r.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&id.UserID, &id.TenantID, &id.Email, &id.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tokenHash string) error {
	query := `
		DELETE FROM user_sessions
		WHERE token_hash = $1
	`
	if _, err := r.db.ExecContext(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		DELETE FROM user_sessions
		WHERE user_id = $1
	`
	return r.exec(ctx, query, userID)
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM user_sessions
		WHERE expires_at < $1
	`
	return r.exec(ctx, query, now)
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
