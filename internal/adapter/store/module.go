package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/infra/database"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(
		NewEventSource,
		NewCursorStore,
	),
)

// NewEventSource builds the configured event source behind a circuit breaker.
func NewEventSource(cfg *config.Config, db *database.Provider, logger *slog.Logger) (EventSource, error) {
	var src EventSource

	switch cfg.Source.Backend {
	case config.BackendPostgres:
		ctx := context.Background()
		pool, err := db.Pool(ctx)
		if err != nil {
			return nil, err
		}
		pg := NewPostgresSource(pool, WithTableName(cfg.Database.EventsTable))
		if cfg.Database.Migrate {
			if err := pg.CreateTable(ctx); err != nil {
				return nil, err
			}
		}
		src = pg
	case config.BackendMemory:
		src = NewMemorySource()
	default:
		return nil, fmt.Errorf("store: unsupported source backend %q", cfg.Source.Backend)
	}

	logger.Info("[STORE] event source selected", slog.String("backend", cfg.Source.Backend))
	return NewBreakerSource(src, cfg.Source.Breaker.MaxFailures, cfg.Source.Breaker.OpenTimeout, logger), nil
}

// NewCursorStore builds the configured cursor backend.
func NewCursorStore(cfg *config.Config, db *database.Provider, logger *slog.Logger) (CursorStore, error) {
	logger.Info("[STORE] cursor store selected",
		slog.String("backend", cfg.Cursor.Backend),
		slog.String("key", cfg.Cursor.Key),
	)

	switch cfg.Cursor.Backend {
	case config.BackendPostgres:
		ctx := context.Background()
		pool, err := db.Pool(ctx)
		if err != nil {
			return nil, err
		}
		c := NewPostgresCursor(pool, cfg.Cursor.Key, WithTableName(cfg.Database.CursorTable))
		if cfg.Database.Migrate {
			if err := c.CreateTable(ctx); err != nil {
				return nil, err
			}
		}
		return c, nil
	case config.BackendRedis:
		client, err := db.Redis()
		if err != nil {
			return nil, err
		}
		return NewRedisCursor(client, cfg.Cursor.Key), nil
	case config.BackendMemory:
		return NewMemoryCursor(), nil
	default:
		return nil, fmt.Errorf("store: unsupported cursor backend %q", cfg.Cursor.Backend)
	}
}
