package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis cache settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	KeyPrefix string

	// TTL applied per entry; Redis expires entries itself, so Sweep is
	// a no-op for this backend.
	TTL time.Duration
}

// DefaultRedisConfig returns sensible defaults for local development.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "dedup:sig:",
		TTL:       5 * time.Minute,
	}
}

// RedisCache is a Redis-backed signature cache. It lets multiple ingester
// replicas pointed at the same node share one dedup window.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	defaults := DefaultRedisConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

// NewRedisCacheWithClient wraps an existing client, used by tests.
func NewRedisCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Seen inserts the signature with SET NX so the check and insert are one
// atomic server-side operation.
func (c *RedisCache) Seen(ctx context.Context, signature string) (bool, error) {
	inserted, err := c.client.SetNX(ctx, c.keyPrefix+signature, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return !inserted, nil
}

// Sweep is a no-op: Redis expires entries via per-key TTLs.
func (c *RedisCache) Sweep(ctx context.Context) error {
	return nil
}

// Size counts cached signatures.
func (c *RedisCache) Size(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
