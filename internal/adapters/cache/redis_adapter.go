package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metacircle/backend/internal/domain/providers"
	redisclient "github.com/metacircle/backend/internal/infrastructure/clients/redis"
)

// RedisAdapter implements the CacheProvider interface using Redis
type RedisAdapter struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a RedisAdapter
type Option func(*RedisAdapter)

// WithKeyPrefix namespaces every key
func WithKeyPrefix(prefix string) Option {
	return func(a *RedisAdapter) { a.prefix = prefix }
}

// NewRedisAdapter creates a new Redis cache adapter
func NewRedisAdapter(client *redisclient.Client, opts ...Option) providers.CacheProvider {
	return NewRedisAdapterFromClient(client.Client(), opts...)
}

// NewRedisAdapterFromClient wraps an existing go-redis client
func NewRedisAdapterFromClient(client redis.UniversalClient, opts ...Option) *RedisAdapter {
	a := &RedisAdapter{client: client, prefix: "cache:"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *RedisAdapter) key(k string) string {
	return a.prefix + k
}

// Get retrieves a value from cache
func (a *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := a.client.Get(ctx, a.key(key)).Bytes()
	if err == redis.Nil {
		return nil, providers.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}
	return result, nil
}

// Set stores a value in cache with expiration
func (a *RedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.client.Set(ctx, a.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in cache: %w", err)
	}
	return nil
}

// Delete removes values from cache
func (a *RedisAdapter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = a.key(k)
	}
	if err := a.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}
