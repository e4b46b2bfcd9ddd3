package httpserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/config"
	"github.com/PalachSHAXA/kamizo-sub004/internal/realtime"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-characters-long"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		AppURL:                  "https://app.example.com",
		JWTSecret:               testSecret,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
	}
}

func newTestServer(t *testing.T, dir Directory, inv CacheInvalidator, checks ...HealthCheck) (*Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	return NewServer(testConfig(), clock, dir, inv, nil, nil, checks), clock
}

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(testNow.Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func tokenFor(t *testing.T, subject string, role domain.Role, building string) string {
	t.Helper()
	return signToken(t, Claims{
		Name:             "User " + subject,
		Role:             string(role),
		Building:         building,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
}

// fakeDirectory is an in-memory Directory for handler tests.
type fakeDirectory struct {
	mu         sync.Mutex
	stats      map[string]realtime.Stats
	suspended  []string
	connectErr error
	connected  []domain.Identity
}

func newFakeDirectory(stats ...realtime.Stats) *fakeDirectory {
	d := &fakeDirectory{stats: make(map[string]realtime.Stats)}
	for _, s := range stats {
		d.stats[s.Partition] = s
	}
	return d
}

func (d *fakeDirectory) Connect(_ context.Context, identity domain.Identity, _ realtime.Conn) (realtime.SessionHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return realtime.SessionHandle{}, d.connectErr
	}
	d.connected = append(d.connected, identity)
	return realtime.SessionHandle{Partition: identity.Partition(), SessionID: uuid.New()}, nil
}

func (d *fakeDirectory) HandleMessage(string, uuid.UUID, []byte) error { return nil }

func (d *fakeDirectory) Touch(string, uuid.UUID) {}

func (d *fakeDirectory) Disconnect(string, uuid.UUID) {}

func (d *fakeDirectory) Liveness(partition string) (realtime.Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[partition]
	if !ok {
		return realtime.Stats{}, domain.ErrPartitionNotFound
	}
	return s, nil
}

func (d *fakeDirectory) Stats() []realtime.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []realtime.Stats
	for _, s := range d.stats {
		out = append(out, s)
	}
	return out
}

func (d *fakeDirectory) Suspend(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.stats[partition]; !ok {
		return domain.ErrPartitionNotFound
	}
	d.suspended = append(d.suspended, partition)
	return nil
}

type fakeInvalidator struct {
	removed     int
	err         error
	collections []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, collection string) (int, error) {
	f.collections = append(f.collections, collection)
	return f.removed, f.err
}
