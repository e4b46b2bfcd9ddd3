package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// InvalidationChannel carries collection names whose cached deltas other
// instances must drop. An empty payload means every collection.
const InvalidationChannel = "delta:invalidate"

// InvalidationSubscriber applies invalidations published by any instance to
// the local L1 layer.
type InvalidationSubscriber struct {
	rdb   *goredis.Client
	cache *DeltaCache
}

func NewInvalidationSubscriber(rdb *goredis.Client, cache *DeltaCache) *InvalidationSubscriber {
	return &InvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx is cancelled or the subscription closes.
func (s *InvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, InvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			s.handleInvalidation(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *InvalidationSubscriber) handleInvalidation(collection string) {
	removed := s.cache.InvalidateMemory(collection)
	slog.Debug("Delta cache invalidated via pub/sub", "collection", collection, "removed", removed)
}

func PublishInvalidation(ctx context.Context, rdb goredis.Cmdable, collection string) error {
	if err := rdb.Publish(ctx, InvalidationChannel, collection).Err(); err != nil {
		return fmt.Errorf("failed to publish delta cache invalidation: %w", err)
	}
	return nil
}
