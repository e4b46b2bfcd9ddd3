package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "delta:"
	allPartitionsKey = "all"
	scanBatchSize    = 100
	defaultMemoryTTL = 30 * time.Second
	defaultRedisTTL  = 10 * time.Minute
	layerMemory      = "memory"
	layerRedis       = "redis"
	originLocal      = "local"
	originPubSub     = "pubsub"
)

// DeltaCache stores fetched deltas keyed by collection, partition and
// fingerprint. L1 is process memory, L2 is redis. A nil redis client runs
// the cache on L1 alone.
type DeltaCache struct {
	rdb      goredis.Cmdable
	mem      *memoryCache
	redisTTL time.Duration
	clock    clockwork.Clock
	metrics  *metrics.CacheMetrics
}

func NewDeltaCache(rdb goredis.Cmdable, clock clockwork.Clock, memoryTTL, redisTTL time.Duration, m *metrics.CacheMetrics) *DeltaCache {
	if memoryTTL <= 0 {
		memoryTTL = defaultMemoryTTL
	}
	if redisTTL <= 0 {
		redisTTL = defaultRedisTTL
	}
	return &DeltaCache{
		rdb:      rdb,
		mem:      newMemoryCache(clock, memoryTTL),
		redisTTL: redisTTL,
		clock:    clock,
		metrics:  m,
	}
}

// cachedDelta is the L2 encoding. Rows keep their wire form and are decoded
// by event type.
type cachedDelta struct {
	Rows []cachedRow `json:"rows"`
}

type cachedRow struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// DeltaKey returns the cache key of one fetch.
func DeltaKey(collection, partition, fingerprint string) string {
	if partition == "" {
		partition = allPartitionsKey
	}
	return keyPrefix + collection + ":" + partition + ":" + fingerprint
}

// collectionPrefix matches every key of a collection, or every key when
// collection is empty.
func collectionPrefix(collection string) string {
	if collection == "" {
		return keyPrefix
	}
	return keyPrefix + collection + ":"
}

func (c *DeltaCache) Get(ctx context.Context, key string) ([]domain.Row, bool) {
	if rows, ok := c.mem.get(key); ok {
		c.metrics.Hit(layerMemory)
		return rows, true
	}
	c.metrics.Miss(layerMemory)

	if c.rdb == nil {
		return nil, false
	}

	rows, ok := c.getRedis(ctx, key)
	if !ok {
		c.metrics.Miss(layerRedis)
		return nil, false
	}
	c.metrics.Hit(layerRedis)
	c.mem.set(key, rows)
	return rows, true
}

func (c *DeltaCache) Set(ctx context.Context, key string, rows []domain.Row) {
	c.mem.set(key, rows)
	if c.rdb == nil {
		return
	}

	delta := cachedDelta{Rows: make([]cachedRow, 0, len(rows))}
	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			slog.WarnContext(ctx, "Failed to marshal row for redis cache", "key", key, "error", err)
			return
		}
		delta.Rows = append(delta.Rows, cachedRow{Type: r.EventType(), Data: data})
	}

	encoded, err := json.Marshal(delta)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal delta for redis cache", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, encoded, c.redisTTL).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to populate redis delta cache", "key", key, "error", err)
	}
}

// Invalidate drops every entry of a collection from both layers. An empty
// collection drops everything.
func (c *DeltaCache) Invalidate(ctx context.Context, collection string) (int, error) {
	removed := c.mem.invalidatePrefix(collectionPrefix(collection))
	c.metrics.Invalidated(originLocal)

	if c.rdb == nil {
		return removed, nil
	}

	deleted, err := c.deleteRedis(ctx, collectionPrefix(collection)+"*")
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate delta cache for %q: %w", collection, err)
	}
	return removed + deleted, nil
}

// InvalidateMemory drops a collection's entries from L1 only. It serves
// invalidations announced by other instances, which already cleared L2.
func (c *DeltaCache) InvalidateMemory(collection string) int {
	removed := c.mem.invalidatePrefix(collectionPrefix(collection))
	c.metrics.Invalidated(originPubSub)
	return removed
}

// EvictExpired removes expired L1 entries and returns how many were removed.
func (c *DeltaCache) EvictExpired() int {
	return c.mem.evictExpired()
}

// StartEvictionTimer evicts expired L1 entries every interval until the
// returned stop function is called.
func (c *DeltaCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired delta cache entries", "count", evicted, "remaining", c.mem.size())
				}
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (c *DeltaCache) getRedis(ctx context.Context, key string) ([]domain.Row, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis delta cache GET failed", "key", key, "error", err)
		}
		return nil, false
	}

	var delta cachedDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached delta", "key", key, "error", err)
		return nil, false
	}

	rows := make([]domain.Row, 0, len(delta.Rows))
	for _, cr := range delta.Rows {
		row, err := domain.DecodeRow(cr.Type, cr.Data)
		if err != nil {
			slog.WarnContext(ctx, "Failed to decode cached row", "key", key, "error", err)
			return nil, false
		}
		rows = append(rows, row)
	}
	return rows, true
}

func (c *DeltaCache) deleteRedis(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatchSize).Iterator()

	batch := make([]string, 0, scanBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, flush()
}

// memoryCache is the L1 layer with TTL expiry on an injectable clock.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type memoryCacheEntry struct {
	rows      []domain.Row
	expiresAt time.Time
}

func newMemoryCache(clock clockwork.Clock, ttl time.Duration) *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *memoryCache) get(key string) ([]domain.Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return nil, false
	}
	return append([]domain.Row(nil), entry.rows...), true
}

func (c *memoryCache) set(key string, rows []domain.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{
		rows:      append([]domain.Row(nil), rows...),
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

func (c *memoryCache) invalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
