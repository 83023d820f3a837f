package service

import (
	"context"
	"fmt"

	"github.com/smallnest/docqa/config"
	"github.com/smallnest/docqa/store"
	"github.com/smallnest/docqa/store/file"
	"github.com/smallnest/docqa/store/memory"
	"github.com/smallnest/docqa/store/postgres"
	"github.com/smallnest/docqa/store/redis"
	"github.com/smallnest/docqa/store/sqlite"
)

// OpenCheckpointStore builds the configured conversation store. The returned
// func releases it.
func OpenCheckpointStore(ctx context.Context, cfg config.ConversationConfig) (store.CheckpointStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case "", "memory":
		return memory.NewMemoryCheckpointStore(), noop, nil

	case "file":
		s, err := file.NewFileCheckpointStore(cfg.FileDir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case "sqlite":
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: cfg.SqlitePath})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "redis":
		s := redis.NewRedisCheckpointStore(redis.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		return s, s.Close, nil

	case "postgres":
		s, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{ConnString: cfg.PostgresURL})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown conversation store %q", cfg.Store)
	}
}
