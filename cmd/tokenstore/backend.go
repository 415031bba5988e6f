package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/tokenstore/pkg/config"
	"github.com/dmitrymomot/tokenstore/pkg/logger"
	"github.com/dmitrymomot/tokenstore/pkg/mongo"
	"github.com/dmitrymomot/tokenstore/pkg/pg"
	"github.com/dmitrymomot/tokenstore/pkg/redis"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore/mongostore"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore/pgstore"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore/redisstore"
)

// backend is an opened store plus the hooks the commands need.
type backend struct {
	name    string
	store   tokenstore.Store
	health  func(context.Context) error
	migrate func(context.Context) error
	close   func()
}

type opener func(ctx context.Context) (*backend, error)

func noop(context.Context) error { return nil }

// envOpener builds the backend named by cfg.Backend from environment config.
func envOpener(cfg appConfig, log *slog.Logger) opener {
	return func(ctx context.Context) (*backend, error) {
		b, err := openBackend(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		b.store = tokenstore.WithLogging(b.store, log.With(logger.Backend(b.name)))
		return b, nil
	}
}

func openBackend(ctx context.Context, cfg appConfig, log *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case backendMemory:
		return newMemoryBackend(), nil

	case backendRedis:
		var rc redis.Config
		if err := config.Load(&rc); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, rc)
		if err != nil {
			return nil, err
		}
		return &backend{
			name:    backendRedis,
			store:   redisstore.New(client, redisstore.WithPrefix(rc.KeyPrefix), redisstore.WithTimeout(cfg.OpTimeout)),
			health:  redis.Healthcheck(client),
			migrate: noop,
			close:   func() { _ = client.Close() },
		}, nil

	case backendPostgres:
		var pc pg.Config
		if err := config.Load(&pc); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, pc)
		if err != nil {
			return nil, err
		}
		db := pg.OpenDB(pool)
		return &backend{
			name:   backendPostgres,
			store:  pgstore.New(db, pgstore.WithTimeout(cfg.OpTimeout)),
			health: pg.Healthcheck(pool),
			migrate: func(ctx context.Context) error {
				return pgstore.Migrate(ctx, db, pc, log)
			},
			close: func() {
				_ = db.Close()
				pool.Close()
			},
		}, nil

	case backendMongo:
		var mc mongo.Config
		if err := config.Load(&mc); err != nil {
			return nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, mc)
		if err != nil {
			return nil, err
		}
		store := mongostore.New(db.Collection(mongostore.DefaultCollection), mongostore.WithTimeout(cfg.OpTimeout))
		return &backend{
			name:    backendMongo,
			store:   store,
			health:  mongo.Healthcheck(db.Client()),
			migrate: store.EnsureIndexes,
			close:   func() { _ = db.Client().Disconnect(context.Background()) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q: use %s, %s, %s or %s",
			cfg.Backend, backendMemory, backendRedis, backendPostgres, backendMongo)
	}
}

func newMemoryBackend() *backend {
	store := tokenstore.NewMemoryStore()
	return &backend{
		name:    backendMemory,
		store:   store,
		health:  noop,
		migrate: noop,
		close:   func() { _ = store.Close() },
	}
}
