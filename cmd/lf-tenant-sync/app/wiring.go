package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/launchfold/tenant-sync-server/internal/config"
	"github.com/launchfold/tenant-sync-server/internal/credentials"
	"github.com/launchfold/tenant-sync-server/internal/deploysync"
	"github.com/launchfold/tenant-sync-server/internal/engine"
	"github.com/launchfold/tenant-sync-server/internal/envsync"
	"github.com/launchfold/tenant-sync-server/internal/guard"
	"github.com/launchfold/tenant-sync-server/internal/lifecycle"
	"github.com/launchfold/tenant-sync-server/internal/remote"
	"github.com/launchfold/tenant-sync-server/internal/store"
	"github.com/launchfold/tenant-sync-server/internal/store/inmemory"
	"github.com/launchfold/tenant-sync-server/internal/store/postgres"
)

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Store.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return postgres.New(pool), pool.Close, nil
	default:
		logger.Warn("Using in-memory store; records are lost on restart")
		return inmemory.New(), func() {}, nil
	}
}

func newLockStore(cfg *config.Config) (guard.LockStore, error) {
	if cfg.Locks.GetBackend() == config.LockBackendRedis {
		return guard.NewRedisLockStore(cfg.Locks.Redis.Addr, cfg.Locks.Redis.Password, cfg.Locks.Redis.DB)
	}
	return guard.NewMemoryLockStore(), nil
}

// buildEngine assembles the reconciliation engine from the configuration.
// The returned cleanup closes the store backend.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, store.Store, func(), error) {
	st, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	locks, err := newLockStore(cfg)
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("failed to create lock store: %w", err)
	}
	g := guard.New(locks, guard.WithDebounceWindow(cfg.Locks.GetDebounceWindow()))

	token, err := cfg.Remote.GetToken()
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("failed to resolve platform token: %w", err)
	}

	clients := remote.NewFactory(cfg.Remote.Endpoint,
		remote.WithTimeout(cfg.Remote.GetTimeout()),
		remote.WithMaxTries(cfg.Remote.MaxTries),
	)

	resolver := credentials.NewResolver(
		clients,
		credentials.Settings{Token: token, TeamID: cfg.Remote.GetTeamID()},
		credentials.NewMemoryCache(credentials.WithCacheTTL(cfg.Sync.GetCredentialCacheTTL())),
		logger,
	)

	eng := engine.New(
		st,
		resolver,
		clients,
		g,
		lifecycle.NewManager(st, st, st, logger),
		envsync.NewReconciler(st, st, g, logger),
		deploysync.NewEngine(st, st, logger, deploysync.WithFetchLimit(cfg.Sync.FetchLimit)),
		logger,
		engine.WithParallelism(cfg.Sync.Parallelism),
	)
	return eng, st, closeStore, nil
}
