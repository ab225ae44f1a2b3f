package passwordresets

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

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, pr *models.PasswordReset) error {
	query := `
		INSERT INTO password_resets (user_id, token_hash, expires_at, request_ip, request_ua, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		pr.UserID, pr.TokenHash, pr.ExpiresAt, pr.RequestIP, pr.RequestUA, pr.CreatedAt).Scan(&pr.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	query := `
		SELECT pr.id, pr.user_id, u.email, pr.token_hash, pr.expires_at, pr.used_at,
		       COALESCE(pr.request_ip, ''), COALESCE(pr.request_ua, ''), pr.created_at
		FROM password_resets pr
		JOIN users u ON u.id = pr.user_id
		WHERE pr.token_hash = $1
		ORDER BY pr.id DESC
		LIMIT 1
	`
	pr, err := scanReset(r.db.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return pr, nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.PasswordReset, error) {
	query := `
		SELECT pr.id, pr.user_id, '', pr.token_hash, pr.expires_at, pr.used_at,
		       COALESCE(pr.request_ip, ''), COALESCE(pr.request_ua, ''), pr.created_at
		FROM password_resets pr
		WHERE pr.user_id = $1
		ORDER BY pr.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.PasswordReset
	for rows.Next() {
		pr, err := scanReset(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id int64, userID string, now time.Time) (bool, error) {
	query := `
		UPDATE password_resets
		SET used_at = $3
		WHERE id = $1 AND user_id = $2 AND used_at IS NULL AND expires_at > $3
	`
	res, err := r.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query := `
		DELETE FROM password_resets
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM password_resets
		WHERE used_at IS NOT NULL OR expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReset(s scanner) (*models.PasswordReset, error) {
	pr := &models.PasswordReset{}
	var usedAt sql.NullTime
	if err := s.Scan(&pr.ID, &pr.UserID, &pr.Email, &pr.TokenHash, &pr.ExpiresAt, &usedAt,
		&pr.RequestIP, &pr.RequestUA, &pr.CreatedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		pr.UsedAt = &t
	}
	return pr, nil
}
