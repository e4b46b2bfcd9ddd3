package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *pgxpool.Pool used by collection sources.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// table describes how one collection is read.
type table struct {
	collection string
	name       string
	// timeColumn orders rows and bounds the look-back window.
	timeColumn string
	// partitioned tables carry a building_id the partition filters on.
	partitioned bool
	// fingerprint is a text expression over the mutable fields of a row.
	fingerprint string
	columns     string
	scan        func(row pgx.CollectableRow) (domain.Row, error)
}

var tables = []table{
	{
		collection:  domain.CollectionRequests,
		name:        "requests",
		timeColumn:  "updated_at",
		partitioned: true,
		fingerprint: "id || ':' || status || ':' || coalesce(executor_id, '') || ':' || extract(epoch FROM updated_at)::text",
		columns:     "id, number, coalesce(building_id, ''), resident_id, coalesce(executor_id, ''), category, title, status, updated_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var r domain.RequestUpdate
			err := row.Scan(&r.ID, &r.Number, &r.BuildingID, &r.ResidentID, &r.ExecutorID, &r.Category, &r.Title, &r.Status, &r.UpdatedAt)
			return r, err
		},
	},
	{
		collection:  domain.CollectionMeetings,
		name:        "meetings",
		timeColumn:  "updated_at",
		partitioned: true,
		fingerprint: "id || ':' || status || ':' || extract(epoch FROM updated_at)::text",
		columns:     "id, coalesce(building_id, ''), title, status, starts_at, updated_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var m domain.MeetingUpdate
			err := row.Scan(&m.ID, &m.BuildingID, &m.Title, &m.Status, &m.StartsAt, &m.UpdatedAt)
			return m, err
		},
	},
	{
		collection:  domain.CollectionAnnouncements,
		name:        "announcements",
		timeColumn:  "updated_at",
		partitioned: true,
		fingerprint: "id || ':' || priority || ':' || extract(epoch FROM updated_at)::text",
		columns:     "id, coalesce(building_id, ''), title, body, priority, updated_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var a domain.AnnouncementUpdate
			err := row.Scan(&a.ID, &a.BuildingID, &a.Title, &a.Body, &a.Priority, &a.UpdatedAt)
			return a, err
		},
	},
	{
		collection:  domain.CollectionExecutors,
		name:        "executors",
		timeColumn:  "updated_at",
		fingerprint: "id || ':' || status || ':' || extract(epoch FROM updated_at)::text",
		columns:     "id, name, specialization, status, updated_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var e domain.ExecutorUpdate
			err := row.Scan(&e.ID, &e.Name, &e.Specialization, &e.Status, &e.UpdatedAt)
			return e, err
		},
	},
	{
		collection:  domain.CollectionChatMessages,
		name:        "chat_messages",
		timeColumn:  "created_at",
		partitioned: true,
		fingerprint: "id || ':' || extract(epoch FROM created_at)::text",
		columns:     "id, conversation_id, sender_id, coalesce(recipient_id, ''), body, created_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var c domain.ChatMessage
			err := row.Scan(&c.ID, &c.ConversationID, &c.SenderID, &c.RecipientID, &c.Body, &c.CreatedAt)
			return c, err
		},
	},
	{
		collection:  domain.CollectionChatReads,
		name:        "chat_reads",
		timeColumn:  "read_at",
		partitioned: true,
		fingerprint: "id || ':' || extract(epoch FROM read_at)::text",
		columns:     "id, message_id, reader_id, author_id, read_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var c domain.ChatRead
			err := row.Scan(&c.ID, &c.MessageID, &c.ReaderID, &c.AuthorID, &c.ReadAt)
			return c, err
		},
	},
	{
		collection:  domain.CollectionReschedules,
		name:        "reschedule_events",
		timeColumn:  "updated_at",
		partitioned: true,
		fingerprint: "id || ':' || status || ':' || extract(epoch FROM updated_at)::text",
		columns:     "id, request_id, initiator_id, recipient_id, proposed_at, status, updated_at",
		scan: func(row pgx.CollectableRow) (domain.Row, error) {
			var r domain.RescheduleUpdate
			err := row.Scan(&r.ID, &r.RequestID, &r.InitiatorID, &r.RecipientID, &r.ProposedAt, &r.Status, &r.UpdatedAt)
			return r, err
		},
	},
}

// Source reads one collection. It implements domain.CollectionSource.
type Source struct {
	db             Querier
	table          table
	fingerprintSQL string
	fetchSQL       string
}

var _ domain.CollectionSource = (*Source)(nil)

// NewSource returns the source for a collection name.
func NewSource(db Querier, collection string) (*Source, error) {
	for _, t := range tables {
		if t.collection == collection {
			return newSource(db, t), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
}

// NewSources returns a source for every known collection, keyed by name.
func NewSources(db Querier) map[string]*Source {
	sources := make(map[string]*Source, len(tables))
	for _, t := range tables {
		sources[t.collection] = newSource(db, t)
	}
	return sources
}

func newSource(db Querier, t table) *Source {
	where := fmt.Sprintf("%s > now() - ($1::float8 * interval '1 second')", t.timeColumn)
	limit := "$2"
	if t.partitioned {
		where += " AND ($2::text = '' OR building_id = $2::text)"
		limit = "$3"
	}
	order := t.timeColumn + " DESC, id"

	fingerprintSQL := strings.Join([]string{
		"-- name: " + t.collection + "_fingerprint",
		fmt.Sprintf("SELECT coalesce(md5(string_agg(fp, ',' ORDER BY %s)), '')", order),
		fmt.Sprintf("FROM (SELECT id, %s, %s AS fp FROM %s WHERE %s ORDER BY %s LIMIT %s) recent",
			t.timeColumn, t.fingerprint, t.name, where, order, limit),
	}, "\n")

	fetchSQL := strings.Join([]string{
		"-- name: " + t.collection + "_fetch",
		fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %s", t.columns, t.name, where, order, limit),
	}, "\n")

	return &Source{db: db, table: t, fingerprintSQL: fingerprintSQL, fetchSQL: fetchSQL}
}

func (s *Source) Collection() string { return s.table.collection }

// Fingerprint hashes the capped look-back window. It returns "" when the
// window is empty.
func (s *Source) Fingerprint(ctx context.Context, q domain.Query) (string, error) {
	var fingerprint string
	if err := s.db.QueryRow(ctx, s.fingerprintSQL, s.args(q)...).Scan(&fingerprint); err != nil {
		return "", fmt.Errorf("failed to fingerprint %s: %w", s.table.collection, err)
	}
	return fingerprint, nil
}

// FetchRecent returns the rows of the window, most recent first.
func (s *Source) FetchRecent(ctx context.Context, q domain.Query) ([]domain.Row, error) {
	rows, err := s.db.Query(ctx, s.fetchSQL, s.args(q)...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.table.collection, err)
	}

	result, err := pgx.CollectRows[domain.Row](rows, s.table.scan)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.table.collection, err)
	}
	return result, nil
}

func (s *Source) args(q domain.Query) []any {
	lookback := q.Lookback.Seconds()
	if s.table.partitioned {
		return []any{lookback, q.Partition, q.Limit}
	}
	return []any{lookback, q.Limit}
}
