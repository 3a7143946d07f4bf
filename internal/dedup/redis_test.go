package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCacheWithClient(client, "test:sig:", ttl), mr
}

func TestRedisCache_Seen(t *testing.T) {
	cache, _ := newTestRedisCache(t, time.Minute)
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "sig1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("first observation must not report seen")
	}

	seen, _ = cache.Seen(ctx, "sig1")
	if !seen {
		t.Error("second observation must report seen")
	}

	n, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected size 1, got %d", n)
	}
}

func TestRedisCache_EntriesExpire(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	ctx := context.Background()

	_, _ = cache.Seen(ctx, "sig1")

	mr.FastForward(2 * time.Minute)

	seen, err := cache.Seen(ctx, "sig1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("entry should have expired")
	}
}
