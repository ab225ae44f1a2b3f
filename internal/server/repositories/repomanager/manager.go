package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/loginfailures"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/proposals"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// the same repository code on the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Tenants(db dbx.DBTX) tenants.Repository
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	PasswordResets(db dbx.DBTX) passwordresets.Repository
	LoginFailures(db dbx.DBTX) loginfailures.Repository
	Proposals(db dbx.DBTX) proposals.Repository
}
