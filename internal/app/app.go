// Package app initializes and orchestrates the main components of the
// build bridge. It wires together the configuration, storage, GitLab
// client, worker, and HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/skravchuk/buildbridge/internal/admin"
	"github.com/skravchuk/buildbridge/internal/build"
	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/db"
	"github.com/skravchuk/buildbridge/internal/gitlab"
	"github.com/skravchuk/buildbridge/internal/ingest"
	"github.com/skravchuk/buildbridge/internal/logger"
	"github.com/skravchuk/buildbridge/internal/server"
	"github.com/skravchuk/buildbridge/internal/storage"
	"github.com/skravchuk/buildbridge/internal/worker"
)

// App holds the main application components.
type App struct {
	ctx       context.Context
	cfg       *config.Config
	server    *server.Server
	worker    *worker.Worker
	logger    *slog.Logger
	dbCleanup func()
}

// NewApp sets up the application with all its dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger.Info("initializing build bridge",
		"gitlab_host", cfg.GitLab.BaseURL,
		"server_port", cfg.Server.Port,
		"worker_enabled", cfg.Worker.Enabled)

	dbConn, dbCleanup, err := db.New(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := storage.NewStore(dbConn.DB)

	remote, err := gitlab.NewClient(cfg.GitLab, clientMarker(), logger)
	if err != nil {
		dbCleanup()
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	runner := build.NewCommandRunner(cfg.Worker.BuildCommand, logger)

	var bgWorker *worker.Worker
	if cfg.Worker.Enabled {
		bgWorker = worker.New(store, remote, runner, cfg.Worker, logger)
	}

	ingestor := ingest.NewIngestor(store, logger)
	controller := admin.NewController(store, logger)
	router := server.NewRouter(cfg, ingestor, controller, logger)
	httpServer := server.NewServer(cfg.Server.Port, router, logger)

	logger.Info("build bridge initialized successfully")
	return &App{
		ctx:       ctx,
		cfg:       cfg,
		server:    httpServer,
		worker:    bgWorker,
		logger:    logger,
		dbCleanup: dbCleanup,
	}, nil
}

// Start runs the background worker and the HTTP server. It blocks until
// the server stops listening.
func (a *App) Start() error {
	if a.worker != nil {
		a.worker.Start(a.ctx)
	}

	a.logger.Info("starting build bridge", "server_port", a.cfg.Server.Port)
	if err := a.server.Start(); err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}
	return nil
}

// Stop shuts down the application cleanly: the HTTP server first so no
// new events arrive, then the worker so an in-flight task can release
// its claim, then the database connection.
func (a *App) Stop() error {
	a.logger.Info("shutting down build bridge services")

	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
	}

	if a.worker != nil {
		a.worker.Stop()
	}

	a.logger.Info("closing database connection")
	a.dbCleanup()

	if serverErr != nil {
		return serverErr
	}
	a.logger.Info("build bridge stopped successfully")
	return nil
}

// clientMarker identifies this bridge instance in outbound comments and
// logs so multiple deployments against the same GitLab host can be told
// apart.
func clientMarker() string {
	host, err := os.Hostname()
	if err != nil {
		host = "buildbridge"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	}, nil)
}
