package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
)

// Store is a byte-oriented key/value cache with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

var errEmptyKey = errors.New("cache key is required")

// Module provides the cache store and the order read cache to the Fx graph.
var Module = fx.Provide(NewStore, NewOrderCache)

// NewStore initialises the configured cache store. A disabled cache is a
// noop store whatever the driver says.
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Cache.Enabled {
		logger.Info("cache disabled; using noop store")
		return noopStore{}, nil
	}

	switch strings.ToLower(cfg.Cache.Driver) {
	case "noop":
		logger.Info("cache driver noop; orders are always read from the database")
		return noopStore{}, nil
	case "memory":
		return NewMemoryStore(cfg.Cache.DefaultTTL), nil
	case "redis":
		client := NewRedisClient(lc, cfg.Cache.Redis, logger)
		return NewRedisStore(client, cfg.Cache.KeyPrefix, cfg.Cache.DefaultTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, error)              { return nil, ErrCacheMiss }
func (noopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (noopStore) Delete(context.Context, ...string) error                  { return nil }
func (noopStore) Ping(context.Context) error                               { return nil }

// RedisStore namespaces every key under a prefix so several deployments can
// share one redis database.
type RedisStore struct {
	client     goredis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisStore wraps client.
func NewRedisStore(client goredis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// NewRedisClient builds a redis client whose ping and close follow the Fx
// lifecycle.
func NewRedisClient(lc fx.Lifecycle, cfg config.Redis, logger *zap.Logger) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			if logger != nil {
				logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if logger != nil {
				logger.Info("closing redis client")
			}
			return client.Close()
		},
	})

	return client
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheMiss
	}
	res, err := s.client.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return res, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			full = append(full, s.key(k))
		}
	}
	if len(full) == 0 {
		return nil
	}
	return s.client.Del(ctx, full...).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
