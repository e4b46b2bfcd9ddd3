package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/redis"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// CacheInvalidator drops the cached deltas of a collection locally and in
// Redis, then tells the other instances to drop their in-memory copies.
type CacheInvalidator struct {
	cache *redis.DeltaCache
	rdb   goredis.Cmdable
}

// NewCacheInvalidator returns an invalidator. rdb may be nil, in which case
// only this instance's cache is cleared.
func NewCacheInvalidator(cache *redis.DeltaCache, rdb goredis.Cmdable) *CacheInvalidator {
	return &CacheInvalidator{cache: cache, rdb: rdb}
}

func (i *CacheInvalidator) Invalidate(ctx context.Context, collection string) (int, error) {
	if !KnownCollection(collection) {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}

	removed, err := i.cache.Invalidate(ctx, collection)
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate %s: %w", collection, err)
	}

	if i.rdb != nil {
		if err := redis.PublishInvalidation(ctx, i.rdb, collection); err != nil {
			return removed, fmt.Errorf("failed to broadcast invalidation of %s: %w", collection, err)
		}
	}

	slog.InfoContext(ctx, "Delta cache invalidated", "collection", collection, "removed", removed)
	return removed, nil
}
