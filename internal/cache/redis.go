package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/mdload/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// RedisStore keeps entries as plain Redis strings without TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.CacheIOError(fmt.Sprintf("redis ping %s", cfg.Addr), err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mdload:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", domain.CacheIOError("redis get", err)
	}
	return val, nil
}

// Put uses SETNX; a single SET is atomic for readers.
func (s *RedisStore) Put(ctx context.Context, key, text string) error {
	if err := s.client.SetNX(ctx, s.prefix+key, text, 0).Err(); err != nil {
		return domain.CacheIOError("redis set", err)
	}
	return nil
}

// Purge removes every key under the store prefix.
func (s *RedisStore) Purge(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return domain.CacheIOError("redis delete", err)
		}
	}
	if err := iter.Err(); err != nil {
		return domain.CacheIOError("redis scan", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
