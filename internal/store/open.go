package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rollcall/internal/cache"
	"rollcall/internal/config"
	"rollcall/internal/logger"
	"rollcall/internal/repository"
	"rollcall/internal/service"
)

// Open connects the configured store driver and wraps it in a Persister.
// The returned func releases the driver's connections.
func Open(ctx context.Context, cfg *config.Config) (*Persister, func(), error) {
	log := logger.Component("store")
	var (
		next    service.StateStore
		release = func() {}
	)

	switch cfg.Agent.Store {
	case config.StoreMemory, "":
		next = NewMemory()

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		next = cache.NewSnapshotCache(rdb, 0)
		release = func() { _ = rdb.Close() }

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		next = repository.NewSnapshotRepo(client.Database(cfg.Mongo.Database))
		release = func() { _ = client.Disconnect(context.Background()) }

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := repository.NewPgSnapshotRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		next = repo
		release = pool.Close

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Agent.Store)
	}

	log.Info("store ready", slog.String("driver", cfg.Agent.Store))
	return NewPersister(next, cfg.Agent.StoreTimeout), release, nil
}
