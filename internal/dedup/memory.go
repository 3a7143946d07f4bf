package dedup

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryConfig holds in-memory cache settings.
type MemoryConfig struct {
	// TTL after which an entry is eligible for eviction.
	TTL time.Duration

	// MaxSize is the entry count Sweep trims down to, oldest first.
	MaxSize int
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		TTL:     5 * time.Minute,
		MaxSize: 10000,
	}
}

// MemoryCache is a mutex-guarded in-process signature cache.
type MemoryCache struct {
	cfg MemoryConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	defaults := DefaultMemoryConfig()
	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	return &MemoryCache{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Seen checks for and inserts the signature under a single lock
// acquisition so rapid repeat notifications cannot both pass.
func (c *MemoryCache) Seen(ctx context.Context, signature string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[signature]; ok {
		return true, nil
	}
	c.entries[signature] = c.now()
	return false, nil
}

// Sweep evicts entries older than the TTL, then trims oldest-first down
// to MaxSize.
func (c *MemoryCache) Sweep(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.TTL)
	for sig, seen := range c.entries {
		if seen.Before(cutoff) {
			delete(c.entries, sig)
		}
	}

	if len(c.entries) <= c.cfg.MaxSize {
		return nil
	}

	type entry struct {
		sig  string
		seen time.Time
	}
	ordered := make([]entry, 0, len(c.entries))
	for sig, seen := range c.entries {
		ordered = append(ordered, entry{sig, seen})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].seen.Before(ordered[j].seen)
	})

	for _, e := range ordered[:len(ordered)-c.cfg.MaxSize] {
		delete(c.entries, e.sig)
	}
	return nil
}

// Size returns the current entry count.
func (c *MemoryCache) Size(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), nil
}
