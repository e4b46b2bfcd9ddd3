package postgres

import (
	"testing"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource_UnknownCollection(t *testing.T) {
	_, err := NewSource(nil, "invoices")
	require.ErrorIs(t, err, domain.ErrUnknownCollection)
}

func TestNewSources_CoversEveryCollection(t *testing.T) {
	sources := NewSources(nil)

	assert.Len(t, sources, 7)
	for name, s := range sources {
		assert.Equal(t, name, s.Collection())
	}
}

func TestSource_SQLShape(t *testing.T) {
	partitioned, err := NewSource(nil, domain.CollectionRequests)
	require.NoError(t, err)
	assert.Contains(t, partitioned.fingerprintSQL, "building_id = $2::text")
	assert.Contains(t, partitioned.fetchSQL, "LIMIT $3")
	assert.Equal(t, "requests_fingerprint", queryName(partitioned.fingerprintSQL))
	assert.Equal(t, "requests_fetch", queryName(partitioned.fetchSQL))

	unpartitioned, err := NewSource(nil, domain.CollectionExecutors)
	require.NoError(t, err)
	assert.NotContains(t, unpartitioned.fetchSQL, "building_id")
	assert.Contains(t, unpartitioned.fetchSQL, "LIMIT $2")
}

func TestQueryName(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"-- name: chat_reads_fetch\nSELECT 1", "chat_reads_fetch"},
		{"SELECT pg_advisory_lock($1)", "select"},
		{"  INSERT INTO x VALUES (1)", "insert"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, queryName(tt.sql), tt.sql)
	}
}
