package threatintel

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/metrics"
)

const defaultCleanupInterval = 5 * time.Minute

// SharedStore is a second cache tier shared between instances
type SharedStore interface {
	// Get returns nil, nil when the key is absent
	Get(ctx context.Context, key string) (*entity.CacheEntry, error)
	Set(ctx context.Context, entry *entity.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ResultCache is a TTL cache of aggregated results bounded by an LRU.
// Values are copied on the way in and out, so callers can never mutate a
// cached entry.
type ResultCache struct {
	// mu serializes writers so that an expiry check and its removal act on
	// the same entry
	mu              sync.Mutex
	entries         *lru.Cache[string, entity.CacheEntry]
	capacity        int
	cleanupInterval time.Duration
	shared          SharedStore
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	// Capacity bounds the number of entries. Zero or less means unbounded.
	Capacity        int
	CleanupInterval time.Duration
	Shared          SharedStore
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
	Shared    bool    `json:"shared"`
}

// NewResultCache creates a result cache
func NewResultCache(cfg CacheConfig) (*ResultCache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = math.MaxInt
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	entries, err := lru.New[string, entity.CacheEntry](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &ResultCache{
		entries:         entries,
		capacity:        cfg.Capacity,
		cleanupInterval: cfg.CleanupInterval,
		shared:          cfg.Shared,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		now:             cfg.Now,
	}, nil
}

// Get returns the cached result for key if it has not expired
func (c *ResultCache) Get(ctx context.Context, key string) (*entity.AggregatedResult, bool) {
	now := c.now()

	if entry, ok := c.entries.Get(key); ok {
		if !entry.Expired(now) {
			c.hit()
			return entry.Value.Clone(), true
		}
		c.removeIfExpired(key, now)
	}

	if entry := c.getShared(ctx, key, now); entry != nil {
		c.add(*entry)
		c.hit()
		return entry.Value.Clone(), true
	}

	c.misses.Add(1)
	c.metrics.CacheLookup(false)
	return nil, false
}

// Put stores value under key for ttl. A non-positive ttl stores nothing.
func (c *ResultCache) Put(ctx context.Context, key string, value *entity.AggregatedResult, ttl time.Duration) {
	if value == nil || ttl <= 0 {
		return
	}

	entry := entity.CacheEntry{
		Key:       key,
		Value:     value.Clone(),
		ExpiresAt: c.now().Add(ttl),
	}
	c.add(entry)

	if c.shared != nil {
		if err := c.shared.Set(ctx, &entry); err != nil {
			c.logger.Warn("Failed to write shared cache", "key", key, "error", err)
		}
	}
}

// Delete removes key from every tier
func (c *ResultCache) Delete(ctx context.Context, key string) {
	c.entries.Remove(key)
	if c.shared != nil {
		if err := c.shared.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to delete from shared cache", "key", key, "error", err)
		}
	}
}

// Clear removes all entries and resets the counters
func (c *ResultCache) Clear(ctx context.Context) error {
	c.entries.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)

	if c.shared != nil {
		if err := c.shared.Clear(ctx); err != nil {
			return fmt.Errorf("clear shared cache: %w", err)
		}
	}
	return nil
}

// Stats returns cache statistics
func (c *ResultCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	capacity := c.capacity
	if capacity == math.MaxInt {
		capacity = 0
	}

	return CacheStats{
		Size:      c.entries.Len(),
		Capacity:  capacity,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Evictions: c.evictions.Load(),
		Shared:    c.shared != nil,
	}
}

// Run periodically removes expired entries until ctx is cancelled
func (c *ResultCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.RemoveExpired(); n > 0 {
				c.logger.Debug("Removed expired cache entries", "count", n)
			}
		}
	}
}

// RemoveExpired drops every expired entry and returns how many were removed
func (c *ResultCache) RemoveExpired() int {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		if c.removeIfExpired(key, now) {
			removed++
		}
	}
	return removed
}

// removeIfExpired drops key only if the entry currently stored is expired
func (c *ResultCache) removeIfExpired(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(key)
	if !ok || !entry.Expired(now) {
		return false
	}
	c.entries.Remove(key)
	return true
}

func (c *ResultCache) add(entry entity.CacheEntry) {
	c.mu.Lock()
	evicted := c.entries.Add(entry.Key, entry)
	c.mu.Unlock()

	if evicted {
		c.evictions.Add(1)
		c.metrics.CacheEviction()
	}
}

func (c *ResultCache) hit() {
	c.hits.Add(1)
	c.metrics.CacheLookup(true)
}

func (c *ResultCache) getShared(ctx context.Context, key string, now time.Time) *entity.CacheEntry {
	if c.shared == nil {
		return nil
	}
	entry, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to read shared cache", "key", key, "error", err)
		return nil
	}
	if entry == nil || entry.Value == nil || entry.Expired(now) {
		return nil
	}
	entry.Key = key
	return entry
}
