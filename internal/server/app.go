// Package server initializes and runs the back-office server: it opens the
// database, applies migrations, wires the services and runs the HTTP API
// and the gRPC health endpoint until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/email"
	"github.com/dmitrijs2005/fermentstation/internal/harvest"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/planning"
	"github.com/dmitrijs2005/fermentstation/internal/server/archive"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/httpapi"
	"github.com/dmitrijs2005/fermentstation/internal/server/metrics"
	"github.com/dmitrijs2005/fermentstation/internal/server/ratelimit"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"

	gs "github.com/dmitrijs2005/fermentstation/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	auth      *services.AuthService
	proposals *services.ProposalService
	harvest   *services.HarvestService
	planning  *services.PlanningService
	brewery   *brewery.Client
	metrics   *metrics.Metrics
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	logger, err := logging.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := dbx.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	mailer := email.NewClient(email.Config{
		APIKey:     c.BrevoAPIKey,
		Sender:     c.EmailSender,
		SenderName: c.EmailSenderName,
	}, logger)

	policy := ratelimit.Policy{Threshold: c.LockoutThreshold, Window: c.LockoutWindow}
	var limiter ratelimit.Limiter = ratelimit.NewStoreLimiter(rm.LoginFailures(db), policy)
	if c.LockoutStore == config.LockoutStoreMemory {
		logger.Warn(ctx, "lockout counters kept in memory, a restart clears them")
		limiter = ratelimit.NewMemoryLimiter(policy)
	}

	app := &App{
		config:    c,
		logger:    logger,
		db:        db,
		auth:      services.NewAuthService(db, rm, c, limiter, mailer, logger),
		proposals: services.NewProposalService(db, rm, c, logger),
		harvest:   services.NewHarvestService(c, mailer, newArchive(ctx, c, logger), loadRecipients(ctx, c.RecipientsPath, logger), logger),
		metrics:   metrics.New(metrics.DefaultNamespace),
	}

	bc := brewery.NewClient(brewery.Config{
		User:      c.EasyBeerUser,
		Password:  c.EasyBeerPassword,
		BreweryID: c.EasyBeerBreweryID,
		BaseURL:   c.EasyBeerBaseURL,
	}, logger)
	app.planning = services.NewPlanningService(bc, services.FicheConfig{
		TemplatePath: c.FicheTemplatePath,
		Rulers:       loadRulers(ctx, c.RulerTablePath, logger),
	}, logger)
	if bc.Configured() {
		app.brewery = bc
	} else {
		logger.Warn(ctx, "brewery API credentials missing, brewery routes disabled")
	}

	return app, nil
}

// newArchive returns nil when object storage is not configured or unusable.
func newArchive(ctx context.Context, c *config.Config, log logging.Logger) archive.Store {
	if c.S3Bucket == "" {
		return nil
	}
	store, err := archive.NewS3Store(ctx, archive.Config{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		log.Error(ctx, "object storage disabled", "error", err)
		return nil
	}
	return store
}

func loadRecipients(ctx context.Context, path string, log logging.Logger) []harvest.Recipient {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn(ctx, "recipients file not found", "path", path)
		} else {
			log.Error(ctx, "recipients file unreadable", "path", path, "error", err)
		}
		return nil
	}
	defer f.Close()

	list, err := harvest.LoadRecipients(f)
	if err != nil {
		log.Error(ctx, "recipients file invalid", "path", path, "error", err)
		return nil
	}
	return list
}

// loadRulers returns nil when the table is missing; sheets then leave the
// dipstick heights blank.
func loadRulers(ctx context.Context, path string, log logging.Logger) planning.RulerTable {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn(ctx, "ruler table not found", "path", path)
		} else {
			log.Error(ctx, "ruler table unreadable", "path", path, "error", err)
		}
		return nil
	}
	defer f.Close()

	t, err := planning.LoadRulerTable(f)
	if err != nil {
		log.Error(ctx, "ruler table invalid", "path", path, "error", err)
		return nil
	}
	return t
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) deps() httpapi.Deps {
	d := httpapi.Deps{
		Auth:          app.auth,
		Proposals:     app.proposals,
		Harvest:       app.harvest,
		Planning:      app.planning,
		Metrics:       app.metrics,
		Log:           app.logger,
		Ping:          app.db.PingContext,
		SecureCookies: app.config.IsProduction(),
	}
	// a typed nil would register the routes
	if app.brewery != nil {
		d.Brewery = app.brewery
	}
	return d
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, httpapi.NewRouter(app.deps()), app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.db.PingContext, 0)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
