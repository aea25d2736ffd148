// Package main provides the entry point for the document store server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ownkit/docstore/internal/backend"
	backendmongo "github.com/ownkit/docstore/internal/backend/mongo"
	backendpg "github.com/ownkit/docstore/internal/backend/postgres"
	"github.com/ownkit/docstore/internal/config"
	"github.com/ownkit/docstore/internal/crud"
	"github.com/ownkit/docstore/internal/database"
	"github.com/ownkit/docstore/internal/mongodb"
	"github.com/ownkit/docstore/internal/observability"
	httpserver "github.com/ownkit/docstore/internal/server/http"
	"github.com/ownkit/docstore/internal/unique"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("docstore server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve the backend once, up front, so a misconfigured value fails
	// startup rather than the first request.
	selector := backend.NewSelector(cfg.Backend)
	kind, err := selector.Resolve()
	if err != nil {
		return fmt.Errorf("resolve backend: %w", err)
	}
	logger.Info().Str("backend", string(kind)).Msg("backend selected")

	// Connect only the selected backend and build its opener.
	var (
		mongoOpener    backend.Opener
		postgresOpener backend.Opener
		health         httpserver.HealthChecker
	)

	switch kind {
	case backend.KindMongo:
		client, err := mongodb.Connect(ctx, &cfg.Mongo, logger)
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if closeErr := client.Close(closeCtx); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close mongodb client")
			}
		}()
		logger.Info().Msg("mongodb connection established")

		if err := ensureMongoIndexes(ctx, client, cfg.Resources, logger); err != nil {
			return err
		}

		mongoOpener = func(resource string) (backend.Store, error) {
			return backendmongo.NewStore(client.Collection(resource)), nil
		}
		health = client.Ping

	case backend.KindPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := runMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
				return err
			}
		}

		postgresOpener = func(resource string) (backend.Store, error) {
			return backendpg.NewStore(db, resource)
		}
		health = db.Ping
	}

	provider := backend.NewProvider(selector, mongoOpener, postgresOpener)

	// Register metrics and build one service per configured resource.
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	services := make(map[string]*crud.PaginatedService, len(cfg.Resources))
	for _, res := range cfg.Resources {
		store, err := provider.Open(res.Name)
		if err != nil {
			return fmt.Errorf("open store for %q: %w", res.Name, err)
		}

		scope := unique.ScopePerOwner
		if res.GlobalUnique {
			scope = unique.ScopeGlobal
		}

		svc := crud.New(store, res.Name, crud.Options{
			UniqueField:    res.UniqueField,
			UniqueScope:    scope,
			AllowedColumns: res.AllowedColumns,
			MaxLimit:       res.MaxLimit,
		}, observability.WithResourceContext(logger, res.Name, string(kind)))
		services[res.Name] = crud.NewValidatedPaginated(svc.WithMetrics(metrics), crud.Rules(res.Validation))
	}
	if len(services) == 0 {
		return fmt.Errorf("no resources configured")
	}

	httpSrv := httpserver.NewServer(
		httpserver.Config{
			Address:         cfg.Server.HTTPAddress(),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		services,
		health,
		metrics,
		logger,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Block until a shutdown signal or a server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

// ensureMongoIndexes creates the ownership and uniqueness indexes for every
// configured resource before taking traffic.
func ensureMongoIndexes(ctx context.Context, client *mongodb.Client, resources []config.ResourceConfig, logger zerolog.Logger) error {
	for _, res := range resources {
		if err := client.EnsureIndexes(ctx, res.Name, res.UniqueField, res.GlobalUnique); err != nil {
			return fmt.Errorf("ensure indexes for %q: %w", res.Name, err)
		}
		logger.Debug().Str("collection", res.Name).Msg("indexes ensured")
	}
	return nil
}

// runMigrations applies pending schema migrations at startup.
func runMigrations(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
