package realtime

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultHeartbeatTimeout = 90 * time.Second

// HeartbeatMonitor finds sessions that have been silent for longer than the
// timeout. It only selects; the hub removes and closes.
type HeartbeatMonitor struct {
	registry *Registry
	clock    clockwork.Clock
	timeout  time.Duration
}

func NewHeartbeatMonitor(registry *Registry, clock clockwork.Clock, timeout time.Duration) *HeartbeatMonitor {
	if timeout <= 0 {
		timeout = defaultHeartbeatTimeout
	}
	return &HeartbeatMonitor{registry: registry, clock: clock, timeout: timeout}
}

// Expired returns the sessions whose silence strictly exceeds the timeout.
func (m *HeartbeatMonitor) Expired() []*Session {
	now := m.clock.Now()

	var expired []*Session
	m.registry.ForEach(func(s *Session) {
		if now.Sub(s.LastHeartbeat()) > m.timeout {
			expired = append(expired, s)
		}
	})
	return expired
}

func (m *HeartbeatMonitor) Timeout() time.Duration { return m.timeout }
