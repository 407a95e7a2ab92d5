package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/store"
	"github.com/xraph/approvals/store/memory"
	"github.com/xraph/approvals/store/postgres"
	"github.com/xraph/approvals/store/redis"
	"github.com/xraph/approvals/store/sqlite"
)

// openStore connects the backend named by cfg.Driver.
func openStore(ctx context.Context, cfg approvals.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Warn("using the in-memory store; instances do not survive a restart")
		return memory.New(), nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return &closingRedis{
			Store:  redis.New(client, redis.WithLogger(logger), redis.WithKeyPrefix(cfg.Prefix)),
			client: client,
		}, nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil

	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", approvals.ErrNoStore, cfg.Driver)
	}
}

// closingRedis closes the client it was built on; redis.Store leaves the
// client to its owner.
type closingRedis struct {
	*redis.Store
	client *goredis.Client
}

func (c *closingRedis) Close() error { return c.client.Close() }
