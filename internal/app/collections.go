package app

import (
	"slices"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/postgres"
	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/redis"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/PalachSHAXA/kamizo-sub004/internal/realtime"
)

// CollectionWindow is how far back a collection is scanned on every tick.
type CollectionWindow struct {
	Name     string
	Lookback time.Duration
}

// Windows lists the watched collections in poll order. Chat windows are short
// because chat is polled for freshness; meetings and announcements change
// rarely and stay visible for a day.
var Windows = []CollectionWindow{
	{Name: domain.CollectionRequests, Lookback: 5 * time.Minute},
	{Name: domain.CollectionMeetings, Lookback: 24 * time.Hour},
	{Name: domain.CollectionAnnouncements, Lookback: 24 * time.Hour},
	{Name: domain.CollectionExecutors, Lookback: 10 * time.Minute},
	{Name: domain.CollectionChatMessages, Lookback: 2 * time.Minute},
	{Name: domain.CollectionChatReads, Lookback: 2 * time.Minute},
	{Name: domain.CollectionReschedules, Lookback: time.Hour},
}

// KnownCollection reports whether name is a watched collection.
func KnownCollection(name string) bool {
	return slices.ContainsFunc(Windows, func(w CollectionWindow) bool { return w.Name == name })
}

// Collections builds the hub collections over the store. When cache is
// non-nil every source is fronted by the delta cache.
func Collections(db postgres.Querier, cache *redis.DeltaCache, limit int) []realtime.Collection {
	sources := postgres.NewSources(db)

	collections := make([]realtime.Collection, 0, len(Windows))
	for _, w := range Windows {
		var source domain.CollectionSource = sources[w.Name]
		if cache != nil {
			source = redis.NewCachedSource(w.Name, source, cache)
		}
		collections = append(collections, realtime.Collection{
			Name:     w.Name,
			Lookback: w.Lookback,
			Limit:    limit,
			Source:   source,
		})
	}
	return collections
}
