// Package database opens the shared postgres pool and redis client on first use,
// so backends that are not configured never dial.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketplace/delivery-service/config"
)

type Provider struct {
	cfg    *config.Config
	logger *slog.Logger

	pgOnce sync.Once
	pool   *pgxpool.Pool
	pgErr  error

	redisOnce sync.Once
	redis     *redis.Client
	redisErr  error
}

func NewProvider(cfg *config.Config, logger *slog.Logger) *Provider {
	return &Provider{cfg: cfg, logger: logger}
}

// Pool returns the postgres pool, opening and pinging it on the first call.
func (p *Provider) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	p.pgOnce.Do(func() {
		pool, err := pgxpool.New(ctx, p.cfg.Database.URL)
		if err != nil {
			p.pgErr = fmt.Errorf("database: open postgres: %w", err)
			return
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			p.pgErr = fmt.Errorf("database: ping postgres: %w", err)
			return
		}
		p.pool = pool
		p.logger.Info("[DB] postgres pool ready")
	})
	return p.pool, p.pgErr
}

// Redis returns the redis client, pinging it on the first call.
func (p *Provider) Redis() (*redis.Client, error) {
	p.redisOnce.Do(func() {
		client := redis.NewClient(&redis.Options{
			Addr:     p.cfg.Redis.Addr,
			Password: p.cfg.Redis.Password,
			DB:       p.cfg.Redis.DB,
		})
		if err := client.Ping().Err(); err != nil {
			_ = client.Close()
			p.redisErr = fmt.Errorf("database: ping redis: %w", err)
			return
		}
		p.redis = client
		p.logger.Info("[DB] redis client ready", slog.String("addr", p.cfg.Redis.Addr))
	})
	return p.redis, p.redisErr
}

// Close releases whatever was opened.
func (p *Provider) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}
