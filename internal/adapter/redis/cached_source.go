package redis

import (
	"context"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CachedSource fronts FetchRecent of a collection source with the delta
// cache. Fingerprints always go to the store; a fetch for a fingerprint
// already seen by any instance is served from the cache.
//
// One CachedSource is shared by every hub of the process. Fetches collapse
// only when they share collection, partition and fingerprint. With one hub
// per partition and no overlapping ticks, that happens when a suspended
// hub's last tick races the tick of its fresh poller. The cache is what
// saves work across instances.
type CachedSource struct {
	collection string
	source     domain.CollectionSource
	cache      *DeltaCache
	group      singleflight.Group
}

var _ domain.CollectionSource = (*CachedSource)(nil)

func NewCachedSource(collection string, source domain.CollectionSource, cache *DeltaCache) *CachedSource {
	return &CachedSource{collection: collection, source: source, cache: cache}
}

func (s *CachedSource) Fingerprint(ctx context.Context, q domain.Query) (string, error) {
	return s.source.Fingerprint(ctx, q)
}

func (s *CachedSource) FetchRecent(ctx context.Context, q domain.Query) ([]domain.Row, error) {
	if q.Fingerprint == "" {
		return s.source.FetchRecent(ctx, q)
	}

	key := DeltaKey(s.collection, q.Partition, q.Fingerprint)
	if rows, ok := s.cache.Get(ctx, key); ok {
		return rows, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		rows, err := s.source.FetchRecent(ctx, q)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, key, rows)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	rows := v.([]domain.Row)
	return append([]domain.Row(nil), rows...), nil
}
