package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout       = 5 * time.Second
	stopTimeout          = 10 * time.Second
	commandBufferSize    = 256
	defaultPollInterval  = 3 * time.Second
	defaultSweepInterval = 15 * time.Second
)

// HubConfig configures one partition hub.
type HubConfig struct {
	Partition        string
	Collections      []Collection
	PollInterval     time.Duration
	StoreTimeout     time.Duration
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	SendTimeout      time.Duration
	SendBuffer       int
	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int
}

func (c HubConfig) withDefaults() HubConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return c
}

// Stats is the liveness view of a hub.
type Stats struct {
	Partition      string    `json:"partition"`
	ActiveSessions int       `json:"activeSessions"`
	PollingActive  bool      `json:"pollingActive"`
	IdleSince      time.Time `json:"idleSince,omitzero"`
}

// SessionHandle is returned to the connect layer for an accepted session.
type SessionHandle struct {
	Partition     string    `json:"partition"`
	SessionID     uuid.UUID `json:"sessionId"`
	Subscriptions []string  `json:"subscriptions"`
}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type connectResult struct {
	handle SessionHandle
	err    error
}

type connectCmd struct {
	baseHubCmd
	identity domain.Identity
	conn     Conn
	reply    chan connectResult
}

type messageCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	raw       []byte
}

type touchCmd struct {
	baseHubCmd
	sessionID uuid.UUID
}

type disconnectCmd struct {
	baseHubCmd
	sessionID uuid.UUID
}

type statsCmd struct {
	baseHubCmd
	reply chan Stats
}

type sweepCmd struct {
	baseHubCmd
	reply chan int
}

type suspendCmd struct {
	baseHubCmd
	reply chan struct{}
}

type hibernateCmd struct {
	baseHubCmd
	idleFor time.Duration
	reply   chan bool
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the actor serving one partition. A single goroutine owns session
// lifecycle and polling state; store calls run on a separate poll goroutine
// that exists only while the hub has sessions.
type Hub struct {
	cfg     HubConfig
	clock   clockwork.Clock
	metrics *metrics.RealtimeMetrics

	cmdCh    chan hubCmd
	done     chan struct{}
	stopOnce sync.Once

	registry   *Registry
	dispatcher *Dispatcher
	monitor    *HeartbeatMonitor

	// Owned by the run goroutine.
	poller     *Poller
	pollCancel context.CancelFunc
	idleSince  time.Time
}

func NewHub(cfg HubConfig, clock clockwork.Clock, m *metrics.RealtimeMetrics) *Hub {
	cfg = cfg.withDefaults()
	registry := NewRegistry()

	h := &Hub{
		cfg:        cfg,
		clock:      clock,
		metrics:    m,
		cmdCh:      make(chan hubCmd, commandBufferSize),
		done:       make(chan struct{}),
		registry:   registry,
		dispatcher: NewDispatcher(registry, clock, m),
		monitor:    NewHeartbeatMonitor(registry, clock, cfg.HeartbeatTimeout),
		idleSince:  clock.Now(),
	}
	h.poller = h.newPoller()

	m.HubStarted()
	go h.run()
	return h
}

func (h *Hub) Partition() string { return h.cfg.Partition }

// Connect creates a session for an authenticated identity. The connection is
// only owned by the hub when no error is returned. A session registered after
// the caller gave up waiting is disconnected again.
func (h *Hub) Connect(ctx context.Context, identity domain.Identity, conn Conn) (SessionHandle, error) {
	reply := make(chan connectResult, 1)
	if err := h.send(connectCmd{identity: identity, conn: conn, reply: reply}); err != nil {
		return SessionHandle{}, err
	}
	result, err := await(ctx, h, reply)
	if err != nil {
		if !errors.Is(err, domain.ErrHubStopped) {
			go h.abandon(reply)
		}
		return SessionHandle{}, err
	}
	return result.handle, result.err
}

func (h *Hub) abandon(reply <-chan connectResult) {
	result, err := await(context.Background(), h, reply)
	if err != nil || result.err != nil {
		return
	}
	slog.Info("Dropping session of abandoned connect", "partition", h.cfg.Partition, "session_id", result.handle.SessionID.String())
	_ = h.Disconnect(result.handle.SessionID)
}

// HandleMessage processes a raw client frame. Unknown sessions are ignored.
func (h *Hub) HandleMessage(sessionID uuid.UUID, raw []byte) error {
	return h.send(messageCmd{sessionID: sessionID, raw: raw})
}

// Touch refreshes the heartbeat of a session without a client message, for
// transport-level activity such as ping control frames.
func (h *Hub) Touch(sessionID uuid.UUID) error {
	return h.send(touchCmd{sessionID: sessionID})
}

// Disconnect removes and closes a session. Unknown sessions are ignored.
func (h *Hub) Disconnect(sessionID uuid.UUID) error {
	return h.send(disconnectCmd{sessionID: sessionID})
}

func (h *Hub) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.send(statsCmd{reply: reply}); err != nil {
		return Stats{}, err
	}
	return await(context.Background(), h, reply)
}

// Sweep runs a heartbeat sweep now and returns the number of evicted sessions.
func (h *Hub) Sweep() (int, error) {
	reply := make(chan int, 1)
	if err := h.send(sweepCmd{reply: reply}); err != nil {
		return 0, err
	}
	return await(context.Background(), h, reply)
}

// Suspend drops every session and all fingerprint state. The hub keeps
// running and behaves as a fresh one afterwards.
func (h *Hub) Suspend() error {
	reply := make(chan struct{}, 1)
	if err := h.send(suspendCmd{reply: reply}); err != nil {
		return err
	}
	_, err := await(context.Background(), h, reply)
	return err
}

// Hibernate stops the hub if it has had no sessions for at least idleFor.
// It reports whether the hub stopped.
func (h *Hub) Hibernate(idleFor time.Duration) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(hibernateCmd{idleFor: idleFor, reply: reply}); err != nil {
		return false, err
	}
	return await(context.Background(), h, reply)
}

// Stop closes all sessions and shuts the hub down. Blocks until the hub
// goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		_ = h.send(stopCmd{})
	})

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "partition", h.cfg.Partition, "timeout", stopTimeout)
	}
}

func (h *Hub) send(cmd hubCmd) error {
	select {
	case <-h.done:
		return domain.ErrHubStopped
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return domain.ErrHubStopped
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		// A reply sent right before the hub exited still wins.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, domain.ErrHubStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("hub command timed out after %v", commandTimeout)
	}
}

func (h *Hub) run() {
	defer close(h.done)

	sweepTicker := h.clock.NewTicker(h.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for !h.serve(sweepTicker) {
	}
}

// serve runs the command loop. It returns true on stop and false after a
// recovered panic, in which case the hub starts over empty.
func (h *Hub) serve(sweepTicker clockwork.Ticker) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "partition", h.cfg.Partition, "panic", r)
			h.metrics.HubPanicked()
			h.reset("internal error")
			stopped = false
		}
	}()

	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case connectCmd:
				h.handleConnect(c)
			case messageCmd:
				h.handleMessage(c)
			case touchCmd:
				if s, ok := h.registry.Get(c.sessionID); ok {
					s.Touch()
				}
			case disconnectCmd:
				h.handleDisconnect(c.sessionID)
			case statsCmd:
				c.reply <- h.stats()
			case sweepCmd:
				c.reply <- h.sweep()
			case suspendCmd:
				h.reset("suspended")
				h.metrics.HubSuspended()
				slog.Info("Hub suspended", "partition", h.cfg.Partition)
				c.reply <- struct{}{}
			case hibernateCmd:
				if h.registry.Count() == 0 && h.clock.Since(h.idleSince) >= c.idleFor {
					h.shutdown("hibernating")
					h.metrics.HubSuspended()
					slog.Info("Hub hibernated", "partition", h.cfg.Partition, "idle_for", h.clock.Since(h.idleSince))
					c.reply <- true
					return true
				}
				c.reply <- false
			case stopCmd:
				h.shutdown("server shutting down")
				return true
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-sweepTicker.Chan():
			h.sweep()
		}
	}
}

func (h *Hub) handleConnect(c connectCmd) {
	if h.cfg.MaxSessions > 0 && h.registry.Count() >= h.cfg.MaxSessions {
		h.metrics.SessionRejected("partition_full")
		slog.Warn("Rejecting session: partition full", "partition", h.cfg.Partition, "max_sessions", h.cfg.MaxSessions)
		c.reply <- connectResult{err: fmt.Errorf("%w: %d sessions", domain.ErrPartitionFull, h.cfg.MaxSessions)}
		return
	}

	s := newSession(c.identity, c.conn, h.clock, h.cfg.SendTimeout, h.cfg.SendBuffer)
	if err := h.registry.Add(s); err != nil {
		go s.Close("internal error")
		c.reply <- connectResult{err: err}
		return
	}
	h.metrics.SessionOpened()

	if data, err := encodeConnected(s, h.clock.Now()); err != nil {
		slog.Error("Failed to encode connected message", "session_id", s.ID().String(), "error", err)
	} else if err := s.Enqueue(data); err != nil {
		slog.Warn("Failed to queue connected message", "session_id", s.ID().String(), "error", err)
	}

	if h.registry.Count() == 1 {
		h.idleSince = time.Time{}
		h.startPolling()
	}

	slog.Info("Session connected",
		"partition", h.cfg.Partition,
		"session_id", s.ID().String(),
		"user_id", c.identity.UserID,
		"role", string(c.identity.Role),
		"sessions", h.registry.Count(),
	)

	c.reply <- connectResult{handle: SessionHandle{
		Partition:     h.cfg.Partition,
		SessionID:     s.ID(),
		Subscriptions: s.Subscriptions(),
	}}
}

func (h *Hub) handleMessage(c messageCmd) {
	s, ok := h.registry.Get(c.sessionID)
	if !ok {
		return
	}

	// Any inbound frame counts as a heartbeat, including malformed ones.
	s.Touch()

	in, err := ParseInbound(c.raw)
	if err != nil {
		h.metrics.MessageMalformed()
		slog.Warn("Ignoring client message", "session_id", c.sessionID.String(), "error", err)
		return
	}

	switch in.Kind {
	case InboundHeartbeat:
		data, err := encodePong(h.clock.Now())
		if err != nil {
			slog.Error("Failed to encode pong", "error", err)
			return
		}
		if err := s.Enqueue(data); err != nil {
			h.metrics.SendFailed(sendFailureReason(err))
			slog.Debug("Failed to queue pong", "session_id", c.sessionID.String(), "error", err)
		}
	case InboundSubscribe:
		s.Subscribe(in.Channels)
		slog.Debug("Session subscribed", "session_id", c.sessionID.String(), "channels", in.Channels)
	case InboundUnsubscribe:
		s.Unsubscribe(in.Channels)
		slog.Debug("Session unsubscribed", "session_id", c.sessionID.String(), "channels", in.Channels)
	}
}

func (h *Hub) handleDisconnect(sessionID uuid.UUID) {
	s := h.registry.Remove(sessionID)
	if s == nil {
		return
	}
	h.metrics.SessionClosed()
	go s.Close("client disconnected")

	slog.Info("Session disconnected", "partition", h.cfg.Partition, "session_id", sessionID.String(), "sessions", h.registry.Count())
	h.afterRemoval()
}

func (h *Hub) sweep() int {
	evicted := 0
	for _, s := range h.monitor.Expired() {
		if h.registry.Remove(s.ID()) == nil {
			continue
		}
		evicted++
		h.metrics.SessionEvicted()
		h.metrics.SessionClosed()
		slog.Info("Session evicted after heartbeat timeout",
			"partition", h.cfg.Partition,
			"session_id", s.ID().String(),
			"silent_for", h.clock.Since(s.LastHeartbeat()),
		)
		go s.Close("heartbeat timeout")
	}

	if evicted > 0 {
		h.afterRemoval()
	}
	return evicted
}

func (h *Hub) afterRemoval() {
	if h.registry.Count() == 0 {
		h.stopPolling()
		h.idleSince = h.clock.Now()
	}
}

func (h *Hub) stats() Stats {
	return Stats{
		Partition:      h.cfg.Partition,
		ActiveSessions: h.registry.Count(),
		PollingActive:  h.pollCancel != nil,
		IdleSince:      h.idleSince,
	}
}

func (h *Hub) newPoller() *Poller {
	scope := h.cfg.Partition
	if scope == domain.GlobalPartition {
		scope = ""
	}
	return NewPoller(scope, h.cfg.Collections, h.dispatcher, h.clock, h.cfg.StoreTimeout, h.metrics)
}

func (h *Hub) startPolling() {
	if h.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.pollCancel = cancel
	h.metrics.PollingChanged(true)

	go h.pollLoop(ctx, h.poller)
	slog.Info("Polling started", "partition", h.cfg.Partition)
}

func (h *Hub) stopPolling() {
	if h.pollCancel == nil {
		return
	}
	h.pollCancel()
	h.pollCancel = nil
	h.metrics.PollingChanged(false)
	slog.Info("Polling stopped", "partition", h.cfg.Partition)
}

func (h *Hub) pollLoop(ctx context.Context, poller *Poller) {
	ticker := h.clock.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	h.tick(ctx, poller)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.tick(ctx, poller)
		}
	}
}

func (h *Hub) tick(ctx context.Context, poller *Poller) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Poll tick panic recovered", "partition", h.cfg.Partition, "panic", r)
			h.metrics.HubPanicked()
		}
	}()
	poller.Tick(ctx)
}

// reset drops all sessions and fingerprint state.
func (h *Hub) reset(reason string) {
	for _, s := range h.registry.Clear() {
		h.metrics.SessionClosed()
		go s.Close(reason)
	}
	h.stopPolling()
	h.poller = h.newPoller()
	h.idleSince = h.clock.Now()
}

// shutdown closes every session and waits for the close frames to go out.
func (h *Hub) shutdown(reason string) {
	sessions := h.registry.Clear()
	h.stopPolling()

	var wg sync.WaitGroup
	for _, s := range sessions {
		h.metrics.SessionClosed()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close(reason)
		}()
	}
	wg.Wait()

	h.metrics.HubStopped()
	slog.Info("Hub stopped", "partition", h.cfg.Partition, "closed_sessions", len(sessions))
}
