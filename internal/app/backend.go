// Package app assembles the storage, cache and provider shared by the server
// and worker binaries.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/aura-webinar/collab/config"
	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/realtime"
	"github.com/aura-webinar/collab/internal/streams"
	"github.com/aura-webinar/collab/internal/users"
	"github.com/aura-webinar/collab/internal/worker"
	"github.com/aura-webinar/collab/pkg/database"
	"github.com/aura-webinar/collab/pkg/redis"
)

// UserStore is the identity directory with profile writes.
type UserStore interface {
	collabs.Directory
	users.Store
}

// Backend holds the process-wide dependencies.
type Backend struct {
	Collabs  collabs.Store
	Users    UserStore
	Redis    *redis.Client // nil when REDIS_ADDR is empty
	Provider *streams.Provider
	closers  []func()
}

// Open connects the configured store, Redis and stream provider and applies
// migrations.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	b := &Backend{}
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), poolOptions(cfg.Database), logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := database.Migrate(ctx, pool); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.Collabs = collabs.NewRepository(pool)
		b.Users = users.NewRepository(pool)
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := database.MigrateSQLite(ctx, db); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.Collabs = collabs.NewSQLiteStore(db)
		b.Users = users.NewSQLiteRepository(db)
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		b.Collabs = collabs.NewMemoryStore()
		b.Users = users.NewMemoryRepository()
	}

	var cache streams.Cache
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = rdb
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		cache = streams.NewRedisCache(rdb.Client, cfg.YouTube.CacheRetention)
	} else {
		cache = streams.NewMemoryCache(cfg.YouTube.CacheRetention)
	}

	if cfg.YouTube.APIKey == "" {
		logger.Warn("YOUTUBE_API_KEY is empty, stream checks will fail")
	}
	yt := streams.NewYouTubeClient(cfg.YouTube.BaseURL, cfg.YouTube.APIKey, &http.Client{Timeout: cfg.YouTube.RequestTimeout})
	b.Provider = streams.NewProvider(yt, cache, cfg.YouTube.RequestTimeout, logger)
	return b, nil
}

func poolOptions(c config.DatabaseConfig) database.PoolOptions {
	return database.PoolOptions{
		MaxConns:          c.MaxConns,
		MinConns:          c.MinConns,
		MaxConnIdleTime:   c.MaxConnIdleTime,
		MaxConnLifetime:   c.MaxConnLifetime,
		HealthCheckPeriod: c.HealthCheckPeriod,
		ApplicationName:   c.ApplicationName,
	}
}

// Hub returns a realtime hub. With Redis it publishes through pub/sub and, when
// subscribe is set, delivers to local watchers from the subscription.
func (b *Backend) Hub(logger *zap.Logger, subscribe bool) *realtime.Hub {
	if b.Redis == nil {
		return realtime.NewHub(logger, nil, nil)
	}
	ps := realtime.NewRedisPubSub(b.Redis.Client, logger)
	if !subscribe {
		return realtime.NewHub(logger, ps, nil)
	}
	return realtime.NewHub(logger, ps, ps)
}

// Reconciler builds the scheduler from configuration.
func (b *Backend) Reconciler(cfg *config.Config, notifier collabs.Notifier, logger *zap.Logger) *worker.Reconciler {
	return worker.NewReconciler(b.Collabs, b.Provider, worker.Config{
		Tick:               cfg.Scheduler.Tick,
		BatchSize:          cfg.Scheduler.BatchSize,
		BatchPause:         cfg.Scheduler.BatchPause,
		MaxPerPass:         cfg.Scheduler.MaxPerPass,
		InProgressInterval: cfg.Scheduler.InProgressInterval,
		TerminalRetention:  cfg.Scheduler.Retention,
	}, logger, worker.WithNotifier(notifier))
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
