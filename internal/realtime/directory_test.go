package realtime

import (
	"testing"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T, idleSuspendAfter time.Duration, clock clockwork.Clock) *Directory {
	t.Helper()
	d := NewDirectory(DirectoryConfig{
		Hub:              HubConfig{SweepInterval: time.Hour},
		IdleSuspendAfter: idleSuspendAfter,
		JanitorInterval:  24 * time.Hour,
	}, clock, nil)
	t.Cleanup(d.Stop)
	return d
}

func TestDirectory_RoutesIdentitiesToPartitions(t *testing.T) {
	d := newTestDirectory(t, 0, clockwork.NewFakeClock())

	residentHandle, err := d.Connect(t.Context(), resident("u1", "b1"), &fakeConn{})
	require.NoError(t, err)
	managerHandle, err := d.Connect(t.Context(), manager("m1"), &fakeConn{})
	require.NoError(t, err)
	_, err = d.Connect(t.Context(), resident("u2", "b1"), &fakeConn{})
	require.NoError(t, err)

	assert.Equal(t, "b1", residentHandle.Partition)
	assert.Equal(t, domain.GlobalPartition, managerHandle.Partition)

	stats := d.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "b1", stats[0].Partition)
	assert.Equal(t, 2, stats[0].ActiveSessions)
	assert.Equal(t, domain.GlobalPartition, stats[1].Partition)
	assert.Equal(t, 1, stats[1].ActiveSessions)
}

func TestDirectory_LivenessAndMessagesForUnknownPartition(t *testing.T) {
	d := newTestDirectory(t, 0, clockwork.NewFakeClock())

	_, err := d.Liveness("nowhere")
	require.ErrorIs(t, err, domain.ErrPartitionNotFound)

	handle, err := d.Connect(t.Context(), resident("u1", "b1"), &fakeConn{})
	require.NoError(t, err)
	err = d.HandleMessage("nowhere", handle.SessionID, []byte(`{"type":"ping"}`))
	require.ErrorIs(t, err, domain.ErrPartitionNotFound)

	d.Disconnect("nowhere", handle.SessionID)
	stats, err := d.Liveness("b1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.True(t, stats.PollingActive)
}

func TestDirectory_DisconnectStopsPolling(t *testing.T) {
	d := newTestDirectory(t, 0, clockwork.NewFakeClock())
	handle, err := d.Connect(t.Context(), resident("u1", "b1"), &fakeConn{})
	require.NoError(t, err)

	d.Disconnect(handle.Partition, handle.SessionID)

	stats, err := d.Liveness("b1")
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveSessions)
	assert.False(t, stats.PollingActive)
}

func TestDirectory_ReapHibernatesIdleHubs(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := newTestDirectory(t, time.Minute, clock)
	idle, err := d.Connect(t.Context(), resident("u1", "b1"), &fakeConn{})
	require.NoError(t, err)
	_, err = d.Connect(t.Context(), manager("m1"), &fakeConn{})
	require.NoError(t, err)

	d.Disconnect(idle.Partition, idle.SessionID)
	_, err = d.Liveness("b1")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Zero(t, d.Reap())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, d.Reap())

	_, err = d.Liveness("b1")
	require.ErrorIs(t, err, domain.ErrPartitionNotFound)
	_, err = d.Liveness(domain.GlobalPartition)
	require.NoError(t, err, "hubs with sessions are kept")

	// The next connect transparently gets a fresh hub.
	conn := &fakeConn{}
	_, err = d.Connect(t.Context(), resident("u1", "b1"), conn)
	require.NoError(t, err)
	requireMessages(t, conn, "connected", 1)
}

func TestDirectory_ConnectReplacesStoppedHub(t *testing.T) {
	d := newTestDirectory(t, 0, clockwork.NewFakeClock())
	_, err := d.Connect(t.Context(), resident("u1", "b1"), &fakeConn{})
	require.NoError(t, err)

	stale, ok := d.lookup("b1")
	require.True(t, ok)
	stale.Stop()

	_, err = d.Connect(t.Context(), resident("u2", "b1"), &fakeConn{})
	require.NoError(t, err)

	current, ok := d.lookup("b1")
	require.True(t, ok)
	assert.NotSame(t, stale, current)
}

func TestDirectory_SuspendPartition(t *testing.T) {
	d := newTestDirectory(t, 0, clockwork.NewFakeClock())
	conn := &fakeConn{}
	_, err := d.Connect(t.Context(), resident("u1", "b1"), conn)
	require.NoError(t, err)

	require.NoError(t, d.Suspend("b1"))

	stats, err := d.Liveness("b1")
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveSessions)
	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, d.Suspend("b2"), domain.ErrPartitionNotFound)
}

func TestDirectory_StopClosesEverything(t *testing.T) {
	d := NewDirectory(DirectoryConfig{}, clockwork.NewFakeClock(), nil)
	conn := &fakeConn{}
	_, err := d.Connect(t.Context(), resident("u1", "b1"), conn)
	require.NoError(t, err)

	d.Stop()

	assert.True(t, conn.isClosed())
	assert.Empty(t, d.Stats())
	_, err = d.Connect(t.Context(), resident("u1", "b1"), &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrHubStopped)
}
