package cache

import (
	"context"
	"fmt"

	"github.com/spherical/mdload/internal/config"
	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CacheConfig, logger *observability.Logger) (Store, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.Dir, logger)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLStore(ctx, DialectSQLite, cfg.SQLite.Path)
	case "postgres":
		return OpenSQLStore(ctx, DialectPostgres, cfg.Postgres.DSN)
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, domain.ConfigError(fmt.Sprintf("invalid cache driver: %s", cfg.Driver), nil)
	}
}
