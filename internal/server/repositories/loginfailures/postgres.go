package loginfailures

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

func (r *PostgresRepository) Get(ctx context.Context, email string) (*models.LoginFailures, error) {
	query := `
		SELECT email, fail_count, last_fail
		FROM login_failures
		WHERE email = $1
	`
	f := &models.LoginFailures{}
	if err := r.db.QueryRowContext(ctx, query, email).Scan(&f.Email, &f.FailCount, &f.LastFail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, email string, now, windowStart time.Time) (int, error) {
	query := `
		INSERT INTO login_failures (email, fail_count, last_fail)
		VALUES ($1, 1, $2)
		ON CONFLICT (email) DO UPDATE
		  SET fail_count = CASE WHEN login_failures.last_fail > $3
		                        THEN login_failures.fail_count + 1 ELSE 1 END,
		      last_fail  = $2
		RETURNING fail_count
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, email, now, windowStart).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Clear(ctx context.Context, email string) error {
	query := `
		DELETE FROM login_failures
		WHERE email = $1
	`
	if _, err := r.db.ExecContext(ctx, query, email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM login_failures
		WHERE last_fail < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
