package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/stopodds/internal/adapters/lease"
	"github.com/okian/stopodds/internal/adapters/repository"
	"github.com/okian/stopodds/internal/config"
	"github.com/okian/stopodds/pkg/logger"
)

// OpenStore returns the configured backend for all three logical stores.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Get().Info(ctx, "using sqlite store", logger.String("path", cfg.SQLitePath))
		return store, nil
	default:
		logger.Get().Info(ctx, "using memory store")
		return repository.NewMemoryStore(ctx), nil
	}
}

// OpenLocker uses Redis when redis_url is set so several replicas share one
// training lease. The returned func closes the client.
func OpenLocker(ctx context.Context, cfg *config.Config) (lease.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lease.NewMemory(time.Now), func() {}, nil
	}
	client, err := lease.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Get().Info(ctx, "using redis training lease")
	return lease.NewRedis(client), func() { _ = client.Close() }, nil
}
