package realtime

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultSendBuffer  = 32
)

// Conn is the transport handle owned by a session. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live client connection with its identity and subscription
// set. Writes to the connection happen only on the session's writer goroutine.
type Session struct {
	id          uuid.UUID
	identity    domain.Identity
	conn        Conn
	clock       clockwork.Clock
	sendTimeout time.Duration

	sendChannel chan []byte
	doneChannel chan struct{}
	writerDone  chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu            sync.Mutex
	subscriptions map[string]struct{}
	lastHeartbeat time.Time
}

func newSession(identity domain.Identity, conn Conn, clock clockwork.Clock, sendTimeout time.Duration, sendBuffer int) *Session {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	s := &Session{
		id:            uuid.New(),
		identity:      identity,
		conn:          conn,
		clock:         clock,
		sendTimeout:   sendTimeout,
		sendChannel:   make(chan []byte, sendBuffer),
		doneChannel:   make(chan struct{}),
		writerDone:    make(chan struct{}),
		subscriptions: make(map[string]struct{}),
		lastHeartbeat: clock.Now(),
	}
	s.Subscribe(InitialChannels(identity))

	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) ID() uuid.UUID             { return s.id }
func (s *Session) Identity() domain.Identity { return s.identity }

// Subscriptions returns the session's channels in sorted order.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make([]string, 0, len(s.subscriptions))
	for c := range s.subscriptions {
		channels = append(channels, c)
	}
	slices.Sort(channels)
	return channels
}

// Subscribe adds channels to the set. Channels already present are ignored.
func (s *Session) Subscribe(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range normalizeChannels(channels) {
		s.subscriptions[c] = struct{}{}
	}
}

// Unsubscribe removes channels from the set. Absent channels are ignored.
func (s *Session) Unsubscribe(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range normalizeChannels(channels) {
		delete(s.subscriptions, c)
	}
}

// SubscribedToAny reports whether any of the channels is in the set.
func (s *Session) SubscribedToAny(channels []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		if _, ok := s.subscriptions[c]; ok {
			return true
		}
	}
	return false
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = s.clock.Now()
}

func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Enqueue hands data to the writer goroutine without blocking.
func (s *Session) Enqueue(data []byte) error {
	select {
	case <-s.doneChannel:
		return domain.ErrSessionClosed
	case <-s.writerDone:
		return domain.ErrSessionClosed
	default:
	}

	select {
	case s.sendChannel <- data:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	defer close(s.writerDone)

	for {
		select {
		case msg := <-s.sendChannel:
			_ = s.conn.SetWriteDeadline(s.clock.Now().Add(s.sendTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("Session write failed", "session_id", s.id.String(), "error", err)
				return
			}
		case <-s.doneChannel:
			return
		}
	}
}

// Close stops the writer, sends a close frame with the given reason and
// closes the connection. Safe to call more than once.
func (s *Session) Close(reason string) {
	s.stopOnce.Do(func() {
		close(s.doneChannel)

		// The writer must be gone before the close frame is written.
		s.wg.Wait()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.SetWriteDeadline(s.clock.Now().Add(s.sendTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = s.conn.Close()
	})
}

// closed reports whether Close has been called.
func (s *Session) closed() bool {
	select {
	case <-s.doneChannel:
		return true
	default:
		return false
	}
}
