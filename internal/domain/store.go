package domain

import (
	"context"
	"time"
)

// Collection names of the watched backing-store collections.
const (
	CollectionRequests      = "requests"
	CollectionMeetings      = "meetings"
	CollectionAnnouncements = "announcements"
	CollectionExecutors     = "executors"
	CollectionChatMessages  = "chat_messages"
	CollectionChatReads     = "chat_reads"
	CollectionReschedules   = "reschedule_events"
)

// Query scopes a fingerprint or fetch to recent rows of one partition.
type Query struct {
	// Partition restricts rows to one building. Empty means all buildings.
	Partition string
	Lookback  time.Duration
	Limit     int
	// Fingerprint is the value that triggered a fetch. Sources may ignore
	// it; caches key on it.
	Fingerprint string
}

// CollectionSource is the backing-store contract for one watched collection.
//
// Fingerprint must be cheap and return "" when there are no recent rows.
// FetchRecent returns the rows the fingerprint summarises, most recent first.
type CollectionSource interface {
	Fingerprint(ctx context.Context, q Query) (string, error)
	FetchRecent(ctx context.Context, q Query) ([]Row, error)
}
