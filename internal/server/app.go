// Package server wires the monitor together: storage, the poll and
// retention workers and the HTTP surface. It handles graceful shutdown on
// SIGINT, SIGTERM and SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/cryptox"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/archive"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/httpapi"
	"github.com/dmitrijs2005/availwatch/internal/server/notify"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
	"github.com/dmitrijs2005/availwatch/internal/server/statusapi"
	"github.com/dmitrijs2005/availwatch/internal/server/worker"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var newRepositoryManager = func() repomanager.RepositoryManager {
	return repomanager.NewPostgresRepositoryManager()
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	http      *httpapi.Server
	poller    *worker.Poller
	retention *worker.Retention
}

// OpenDB connects to PostgreSQL through the pgx stdlib driver and checks
// the connection.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// NewSender returns the apprise-api sender, or a sender that only logs when
// no apprise_url is configured.
func NewSender(c *config.Config, logger logging.Logger) notify.Sender {
	if c.AppriseURL == "" {
		return notify.NewLogSender(logger)
	}
	return notify.NewAppriseSender(c.AppriseURL, c.SendTimeout)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*App, error) {
	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	key, err := cryptox.KeyFromSecret(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	vault, err := cryptox.NewVault(key)
	if err != nil {
		return nil, err
	}
	keys := services.DeriveKeys(key, c.SessionSecret)

	template, err := notify.ParseURLTemplate(c.OTPAppriseURLTemplate)
	if err != nil {
		return nil, err
	}

	if c.AppriseURL == "" {
		logger.Warn(ctx, "apprise_url is not set; notifications are only logged")
	}
	sender := NewSender(c, logger)

	archiver, err := archive.New(ctx, c)
	if err != nil {
		return nil, err
	}

	detector := services.NewChangeDetector(db, rm, c, logger)
	dispatcher := services.NewDispatcher(db, rm, c, vault, sender, template, logger)
	otp := services.NewOTPService(db, rm, c, sender, template, keys, logger)
	subs := services.NewSubscriptionService(db, rm, vault, logger)
	status := services.NewStatusService(db, rm)
	pruner := services.NewRetentionService(db, rm, c, archiver, logger)

	fetcher := statusapi.NewClient(c.StatusAPIURL, c.FetchTimeout, c.FetchRetries, logger)
	poller := worker.NewPoller(fetcher, detector, dispatcher, c.PollInterval, c.CycleTimeout, logger)

	retention, err := worker.NewRetention(pruner, c.PruneSchedule, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfig, err)
	}

	api := httpapi.NewServer(c.EndpointAddrHTTP, otp, subs, status, httpapi.NewIssueLimiter(c.OTPIssuePerHour), logger)

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		http:      api,
		poller:    poller,
		retention: retention,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or the HTTP server fails, then stops the
// workers and closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	app.poller.Start(ctx)
	app.retention.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.logger.Info(ctx, "Shutting down...")

	app.poller.Stop()
	app.retention.Stop()
	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
}
