// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/internal/batch"
	"github.com/arnonsang/shadow-ua-sub000/internal/config"
	"github.com/arnonsang/shadow-ua-sub000/internal/fingerprint"
	"github.com/arnonsang/shadow-ua-sub000/internal/identity"
	"github.com/arnonsang/shadow-ua-sub000/internal/observability"
	"github.com/arnonsang/shadow-ua-sub000/internal/pacing"
	"github.com/arnonsang/shadow-ua-sub000/internal/pool"
	"github.com/arnonsang/shadow-ua-sub000/internal/store"
)

// Components holds the initialized services a command needs. The command layer
// owns their lifetime: build with newComponents, tear down with Shutdown.
type Components struct {
	Factory      *identity.Factory
	Fingerprints *fingerprint.Generator
	Pacer        *pacing.Pacer
	Engine       *batch.Engine
	Pool         *pool.Manager
	Store        *store.Store
	DBPool       *pgxpool.Pool
}

// componentOptions selects which services to build. The batch engine and pool
// manager are independent; commands ask only for what they drive.
type componentOptions struct {
	withEngine bool
	withPool   bool
	withStore  bool
}

// Shutdown gracefully closes all components in reverse dependency order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()

	// 1. Stop the pool first; its final snapshot still needs the database.
	if c.Pool != nil {
		c.Pool.Stop()
		logger.Debug("Pool manager stopped.")
	}

	// 2. Stop the batch engine's cache sweep loop.
	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Batch engine stopped.")
	}

	// 3. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}
}

// newComponents handles the dependency injection and initialization of the
// requested services from the global configuration.
func newComponents(ctx context.Context, opts componentOptions) (*Components, error) {
	cfg := config.Get()
	logger := observability.GetLogger()
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Identity factory and fingerprint generator
	components.Factory = identity.NewFactory(logger)
	components.Fingerprints = fingerprint.NewGenerator()
	logger.Debug("Identity factory initialized.")

	// 2. Pacing model. The profile starts at chrome/windows and follows the
	// selected node once rotation begins.
	pacer, err := pacing.New(pacing.Config{
		Distribution: pacing.Distribution(cfg.Pacing.Distribution),
		HistorySize:  cfg.Pacing.HistorySize,
		SessionDrift: cfg.Pacing.SessionDrift,
	}, schemas.BrowserChrome, schemas.PlatformWindows, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize pacing model: %w", err)
		return nil, initializationErr
	}
	components.Pacer = pacer
	logger.Debug("Pacing model initialized.")

	// 3. Optional persistence
	if opts.withStore {
		if cfg.Postgres.URL == "" {
			initializationErr = fmt.Errorf("postgres.url is not configured (hint: check SHADOW_UA_POSTGRES_URL)")
			return nil, initializationErr
		}
		dbPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		// Add to components immediately so the deferred Shutdown can close it
		// if later steps fail.
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize store: %w", err)
			return nil, initializationErr
		}
		components.Store = dbStore
		logger.Debug("Store initialized.")
	}

	// 4. Batch generation engine
	if opts.withEngine {
		engine, err := batch.NewEngine(cfg.Batch, components.Factory, components.Fingerprints, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize batch engine: %w", err)
			return nil, initializationErr
		}
		components.Engine = engine
		logger.Debug("Batch engine initialized.")
	}

	// 5. Node pool manager
	if opts.withPool {
		deps := pool.Deps{
			Factory:      components.Factory,
			Fingerprints: components.Fingerprints,
			Patterns:     pacer,
		}
		// Assign through the concrete check so a nil store never becomes a
		// non-nil interface.
		if components.Store != nil {
			deps.Snapshots = components.Store
		}
		manager, err := pool.NewManager(ctx, cfg.Pool, deps, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize pool manager: %w", err)
			return nil, initializationErr
		}
		components.Pool = manager
		logger.Debug("Pool manager initialized.")
	}

	return components, nil
}
