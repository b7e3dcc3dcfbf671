package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOption configures RedisCache.
type RedisOption func(*redis.Options, *string)

func WithRedisAddr(host string, port int) RedisOption {
	return func(o *redis.Options, _ *string) { o.Addr = fmt.Sprintf("%s:%d", host, port) }
}

func WithRedisAuth(password string, db int) RedisOption {
	return func(o *redis.Options, _ *string) {
		o.Password = password
		o.DB = db
	}
}

// WithRedisPool sets pool size; min idle connections is half of it.
func WithRedisPool(size int, timeout time.Duration) RedisOption {
	return func(o *redis.Options, _ *string) {
		if size > 0 {
			o.PoolSize = size
			o.MinIdleConns = size / 2
		}
		o.PoolTimeout = timeout
	}
}

// WithRedisPrefix namespaces every key, so several engines can share a DB.
func WithRedisPrefix(prefix string) RedisOption {
	return func(_ *redis.Options, p *string) { *p = prefix }
}

// RedisCache keeps session state across restarts.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects and pings; an unreachable server fails startup.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	o := &redis.Options{Addr: "localhost:6379", PoolSize: 10, PoolTimeout: 30 * time.Second}
	prefix := "optionpilot"
	for _, opt := range opts {
		opt(o, &prefix)
	}
	client := redis.NewClient(o)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", o.Addr, err)
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), b, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return decode(b, dest)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	wrapped := make([]string, len(keys))
	for i, k := range keys {
		wrapped[i] = c.key(k)
	}
	return c.client.Unlink(ctx, wrapped...).Err()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	return n > 0, err
}

func (c *RedisCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}
