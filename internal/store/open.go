// Package store selects and opens the configured license.Store backend.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"licensed/internal/config"
	"licensed/internal/license"
	"licensed/internal/store/memory"
	"licensed/internal/store/postgres"
	"licensed/internal/store/redisstore"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// Open connects the backend named by cfg.Driver. The returned closer
// releases its connections.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (license.Store, io.Closer, error) {
	logger = logger.With(slog.String("component", "store"), slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.WarnContext(ctx, "using in-memory license store, data is lost on restart")
		return memory.New(), nopCloser, nil

	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Options{
			MaxConns:        cfg.MaxConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(db)
		if cfg.AutoMigrate {
			if err := postgres.MigrateUp(ctx, db, logger); err != nil {
				_ = s.Close()
				return nil, nil, err
			}
		}
		return s, closerFunc(s.Close), nil

	case config.DriverRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "redis license store connected", slog.String("prefix", cfg.RedisKeyPrefix))
		return redisstore.New(client, cfg.RedisKeyPrefix), client, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
