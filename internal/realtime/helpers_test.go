package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeConn records frames written by a session.
type fakeConn struct {
	mu          sync.Mutex
	frames      [][]byte
	closeFrames int
	closed      bool
	writeErr    error
	block       chan struct{}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.block != nil {
		<-c.block
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	switch messageType {
	case websocket.TextMessage:
		c.frames = append(c.frames, append([]byte(nil), data...))
	case websocket.CloseMessage:
		c.closeFrames++
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messages decodes every text frame written so far.
func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) messagesOfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, m := range c.messages() {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// fakeSource serves a fixed row set. Its fingerprint is derived from the
// rows unless overridden.
type fakeSource struct {
	mu          sync.Mutex
	rows        []domain.Row
	fingerprint *string
	fpErr       error
	fetchErr    error
	fpCalls     int
	fetchCalls  int
	queries     []domain.Query
	// onFingerprint runs before Fingerprint returns. It may block.
	onFingerprint func(ctx context.Context) error
}

func (s *fakeSource) setRows(rows ...domain.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

func (s *fakeSource) setFingerprintErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fpErr = err
}

func (s *fakeSource) setFetchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

func (s *fakeSource) calls() (fingerprints, fetches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fpCalls, s.fetchCalls
}

func (s *fakeSource) Fingerprint(ctx context.Context, q domain.Query) (string, error) {
	s.mu.Lock()
	s.fpCalls++
	s.queries = append(s.queries, q)
	hook := s.onFingerprint
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fpErr != nil {
		return "", s.fpErr
	}
	if s.fingerprint != nil {
		return *s.fingerprint, nil
	}
	parts := make([]string, 0, len(s.rows))
	for _, r := range s.rows {
		parts = append(parts, fmt.Sprintf("%s:%v", r.RowID(), r))
	}
	return strings.Join(parts, ","), nil
}

func (s *fakeSource) FetchRecent(_ context.Context, _ domain.Query) ([]domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]domain.Row(nil), s.rows...), nil
}

func resident(id, building string) domain.Identity {
	return domain.Identity{UserID: id, DisplayName: "Resident " + id, Role: domain.RoleResident, PartitionID: building}
}

func executor(id string) domain.Identity {
	return domain.Identity{UserID: id, DisplayName: "Executor " + id, Role: domain.RoleExecutor}
}

func manager(id string) domain.Identity {
	return domain.Identity{UserID: id, DisplayName: "Manager " + id, Role: domain.RoleManager}
}

// testSession creates a session that is closed when the test ends.
func testSession(t *testing.T, identity domain.Identity, clock clockwork.Clock) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := newSession(identity, conn, clock, time.Second, 16)
	t.Cleanup(func() { s.Close("test done") })
	return s, conn
}

func requireMessages(t *testing.T, conn *fakeConn, msgType string, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.messagesOfType(msgType)) >= n
	}, time.Second, 5*time.Millisecond, "expected %d %q messages", n, msgType)
	return conn.messagesOfType(msgType)
}

// assertNoMoreMessages waits briefly and checks that no further messages of
// the type arrived.
func assertNoMoreMessages(t *testing.T, conn *fakeConn, msgType string, n int) {
	t.Helper()
	require.Never(t, func() bool {
		return len(conn.messagesOfType(msgType)) > n
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func ptr[T any](v T) *T { return &v }
