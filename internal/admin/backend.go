package admin

import (
	"context"
	"database/sql"
	"io"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/email"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/ratelimit"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

// Backend is what the commands need from the server side.
type Backend interface {
	io.Closer
	Migrate(ctx context.Context) error
	CreateUser(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Cleanup(ctx context.Context) (services.CleanupReport, error)
	Unlock(ctx context.Context, email string) error
	SetActive(ctx context.Context, email string, active bool) (*models.User, int64, error)
}

// Opener builds a Backend for the given configuration.
type Opener func(ctx context.Context, cfg *config.Config, log logging.Logger) (Backend, error)

type dbBackend struct {
	db      *sql.DB
	rm      repomanager.RepositoryManager
	limiter ratelimit.Limiter
	auth    *services.AuthService
}

// OpenDB is the production Opener: PostgreSQL through pgx.
func OpenDB(ctx context.Context, cfg *config.Config, log logging.Logger) (Backend, error) {
	db, err := dbx.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	rm := repomanager.NewPostgresRepositoryManager()
	limiter := ratelimit.NewStoreLimiter(rm.LoginFailures(db), ratelimit.Policy{
		Threshold: cfg.LockoutThreshold,
		Window:    cfg.LockoutWindow,
	})
	mailer := email.NewClient(email.Config{
		APIKey:     cfg.BrevoAPIKey,
		Sender:     cfg.EmailSender,
		SenderName: cfg.EmailSenderName,
	}, log)
	return &dbBackend{
		db:      db,
		rm:      rm,
		limiter: limiter,
		auth:    services.NewAuthService(db, rm, cfg, limiter, mailer, log),
	}, nil
}

func (b *dbBackend) Migrate(ctx context.Context) error {
	return b.rm.RunMigrations(ctx, b.db)
}

func (b *dbBackend) CreateUser(ctx context.Context, in services.RegisterInput) (*models.User, error) {
	return b.auth.Register(ctx, in)
}

func (b *dbBackend) Cleanup(ctx context.Context) (services.CleanupReport, error) {
	return b.auth.Cleanup(ctx)
}

func (b *dbBackend) Unlock(ctx context.Context, email string) error {
	return b.limiter.Reset(ctx, common.NormalizeEmail(email))
}

func (b *dbBackend) SetActive(ctx context.Context, email string, active bool) (*models.User, int64, error) {
	return b.auth.SetActive(ctx, email, active)
}

func (b *dbBackend) Close() error {
	return b.db.Close()
}
