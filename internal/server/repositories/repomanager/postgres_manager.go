// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/server/migrations"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/loginfailures"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/proposals"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Tenants(db dbx.DBTX) tenants.Repository {
	return tenants.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) PasswordResets(db dbx.DBTX) passwordresets.Repository {
	return passwordresets.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) LoginFailures(db dbx.DBTX) loginfailures.Repository {
	return loginfailures.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Proposals(db dbx.DBTX) proposals.Repository {
	return proposals.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
