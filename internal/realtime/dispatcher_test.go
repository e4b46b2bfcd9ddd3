package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDispatcher(t *testing.T) (*Dispatcher, *Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	registry := NewRegistry()
	return NewDispatcher(registry, clock, nil), registry, clock
}

func addSession(t *testing.T, r *Registry, identity domain.Identity, clock clockwork.Clock) (*Session, *fakeConn) {
	t.Helper()
	s, conn := testSession(t, identity, clock)
	require.NoError(t, r.Add(s))
	return s, conn
}

func TestDispatch_DeliversOnlyToIntersectingSessions(t *testing.T) {
	d, r, clock := testDispatcher(t)
	_, residentConn := addSession(t, r, resident("u1", "b1"), clock)
	_, otherConn := addSession(t, r, resident("u2", "b1"), clock)

	msg := domain.NewUpdateMessage(domain.RequestUpdate{ID: "r1", ResidentID: "u1", Status: "done"})
	result, err := d.Dispatch(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Matched: 1, Delivered: 1}, result)
	requireMessages(t, residentConn, "request_update", 1)
	assertNoMoreMessages(t, otherConn, "request_update", 0)
}

func TestDispatch_EnvelopeShape(t *testing.T) {
	d, r, clock := testDispatcher(t)
	_, conn := addSession(t, r, manager("m1"), clock)

	msg := domain.NewUpdateMessage(domain.MeetingUpdate{ID: "mt1", BuildingID: "b1", Title: "Annual", Status: "scheduled"})
	_, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)

	got := requireMessages(t, conn, "meeting_update", 1)[0]
	data, ok := got["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mt1", data["id"])
	assert.Equal(t, "Annual", data["title"])
	assert.Equal(t, float64(clock.Now().UnixMilli()), got["timestamp"])
}

func TestDispatch_SameMessageTwiceDeliversTwice(t *testing.T) {
	d, r, clock := testDispatcher(t)
	_, conn := addSession(t, r, resident("u1", "b1"), clock)

	msg := domain.NewUpdateMessage(domain.RequestUpdate{ID: "r1", ResidentID: "u1", Status: "done"})
	_, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), msg)
	require.NoError(t, err)

	requireMessages(t, conn, "request_update", 2)
}

func TestDispatch_MultipleMatchingChannelsDeliverOnce(t *testing.T) {
	d, r, clock := testDispatcher(t)
	s, conn := addSession(t, r, resident("u1", "b1"), clock)
	s.Subscribe([]string{"requests:all"})

	msg := domain.NewUpdateMessage(domain.RequestUpdate{ID: "r1", ResidentID: "u1", Status: "done"})
	result, err := d.Dispatch(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	requireMessages(t, conn, "request_update", 1)
	assertNoMoreMessages(t, conn, "request_update", 1)
}

func TestDispatch_FailedSendDoesNotAbortOrEvict(t *testing.T) {
	d, r, clock := testDispatcher(t)
	closed, _ := addSession(t, r, resident("u1", "b1"), clock)
	_, managerConn := addSession(t, r, manager("m1"), clock)
	closed.Close("gone")

	msg := domain.NewUpdateMessage(domain.RequestUpdate{ID: "r1", ResidentID: "u1", Status: "done"})
	result, err := d.Dispatch(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Matched: 2, Delivered: 1, Failed: 1}, result)
	requireMessages(t, managerConn, "request_update", 1)
	_, stillThere := r.Get(closed.ID())
	assert.True(t, stillThere, "a failed send must not remove the session")
}

func TestDispatch_FullBufferIsReportedPerSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := &fakeConn{block: make(chan struct{})}
	s := newSession(resident("u1", "b1"), conn, clock, time.Second, 1)
	t.Cleanup(func() { s.Close("test done") })
	t.Cleanup(func() { close(conn.block) })

	var lastErr error
	for range 3 {
		if err := s.Enqueue([]byte(`{}`)); err != nil {
			lastErr = err
		}
	}

	assert.ErrorIs(t, lastErr, domain.ErrSendBufferFull)
}

func TestDispatch_NoTargetChannels(t *testing.T) {
	d, r, clock := testDispatcher(t)
	_, conn := addSession(t, r, manager("m1"), clock)

	result, err := d.Dispatch(context.Background(), domain.UpdateMessage{Type: domain.EventRequestUpdate})

	require.NoError(t, err)
	assert.Zero(t, result)
	assertNoMoreMessages(t, conn, "request_update", 0)
}
