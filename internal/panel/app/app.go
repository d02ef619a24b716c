// Package app wires the panel together: configuration, logging, the session
// database, the identity-service client, the provider registry and the HTTP
// server, plus the janitor that keeps sessions fresh.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/carteralabs/panel/internal/panel/http"
	"github.com/carteralabs/panel/internal/panel/store"
	"github.com/carteralabs/panel/pkg/idp"
	"github.com/carteralabs/panel/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the panel with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       *store.Store
	sealer   *store.Sealer
	idp      *idp.Client
	registry *httpapi.Registry

	server *http.Server
	router *httpapi.Router

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "cartera-panel",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	sealer, err := store.NewSealer(cfg.SealPassphrase)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize token sealer: %w", err)
	}
	app.sealer = sealer

	app.idp = idp.NewClient(cfg.IdentityServiceURL)
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	go app.janitor()

	app.logger.Info("panel starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"identity_service", app.cfg.IdentityServiceURL,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down panel...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	close(app.janitorStop)
	<-app.janitorDone

	app.registry.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("panel stopped")
	return nil
}

// janitor periodically refreshes live sessions and sweeps idle ones.
func (app *Application) janitor() {
	defer close(app.janitorDone)

	ticker := time.NewTicker(app.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), app.cfg.SweepInterval)
			app.registry.Sweep(ctx)
			cancel()
		case <-app.janitorStop:
			return
		}
	}
}

// initDatabase initializes the session database and applies migrations.
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := store.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initHTTP initializes the provider registry, router and server.
func (app *Application) initHTTP() {
	app.registry = httpapi.NewRegistry(httpapi.RegistryConfig{
		Service:   app.idp,
		Store:     app.db,
		Sealer:    app.sealer,
		Refresher: app.idp,
		Logger:    app.logger,
		AppRoot:   app.cfg.PublicOrigin,
		IdleTTL:   app.cfg.SessionTTL,
	})

	router := httpapi.NewRouter(app.registry, app.db, BuildVersion, app.logger)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
