package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	connectAttempts        = 3
	minJanitorInterval     = time.Second
	defaultJanitorInterval = 30 * time.Second
)

// DirectoryConfig configures the partition directory.
type DirectoryConfig struct {
	// Hub is the template for every hub; Partition is filled in per hub.
	Hub HubConfig
	// IdleSuspendAfter hibernates hubs that have had no sessions for this
	// long. Zero disables hibernation.
	IdleSuspendAfter time.Duration
	JanitorInterval  time.Duration
}

// Directory keeps exactly one hub per partition within the process and
// hibernates hubs that sit idle.
type Directory struct {
	cfg     DirectoryConfig
	clock   clockwork.Clock
	metrics *metrics.RealtimeMetrics

	mu      sync.Mutex
	hubs    map[string]*Hub
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDirectory(cfg DirectoryConfig, clock clockwork.Clock, m *metrics.RealtimeMetrics) *Directory {
	d := &Directory{
		cfg:     cfg,
		clock:   clock,
		metrics: m,
		hubs:    make(map[string]*Hub),
		stopCh:  make(chan struct{}),
	}

	if cfg.IdleSuspendAfter > 0 {
		interval := cfg.JanitorInterval
		if interval <= 0 {
			interval = min(defaultJanitorInterval, max(cfg.IdleSuspendAfter/2, minJanitorInterval))
		}
		d.wg.Add(1)
		go d.runJanitor(interval)
	}
	return d
}

// Connect routes an authenticated identity to its partition's hub, creating
// the hub when needed. A hub that stops concurrently is replaced.
func (d *Directory) Connect(ctx context.Context, identity domain.Identity, conn Conn) (SessionHandle, error) {
	partition := identity.Partition()

	for range connectAttempts {
		h, err := d.hubFor(partition)
		if err != nil {
			return SessionHandle{}, err
		}

		handle, err := h.Connect(ctx, identity, conn)
		if errors.Is(err, domain.ErrHubStopped) {
			d.forget(partition, h)
			continue
		}
		return handle, err
	}
	return SessionHandle{}, fmt.Errorf("partition %s: %w", partition, domain.ErrHubStopped)
}

func (d *Directory) HandleMessage(partition string, sessionID uuid.UUID, raw []byte) error {
	h, ok := d.lookup(partition)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPartitionNotFound, partition)
	}
	return h.HandleMessage(sessionID, raw)
}

// Touch refreshes a session's heartbeat. Missing partitions and sessions are
// ignored.
func (d *Directory) Touch(partition string, sessionID uuid.UUID) {
	h, ok := d.lookup(partition)
	if !ok {
		return
	}
	_ = h.Touch(sessionID)
}

// Disconnect removes a session. Missing partitions and sessions are ignored.
func (d *Directory) Disconnect(partition string, sessionID uuid.UUID) {
	h, ok := d.lookup(partition)
	if !ok {
		return
	}
	if err := h.Disconnect(sessionID); err != nil && !errors.Is(err, domain.ErrHubStopped) {
		slog.Warn("Disconnect failed", "partition", partition, "session_id", sessionID.String(), "error", err)
	}
}

// Liveness returns the stats of one partition's hub.
func (d *Directory) Liveness(partition string) (Stats, error) {
	h, ok := d.lookup(partition)
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", domain.ErrPartitionNotFound, partition)
	}
	return h.Stats()
}

// Stats returns the stats of every live hub, ordered by partition.
func (d *Directory) Stats() []Stats {
	var all []Stats
	for _, h := range d.snapshot() {
		s, err := h.Stats()
		if err != nil {
			continue
		}
		all = append(all, s)
	}
	slices.SortFunc(all, func(a, b Stats) int { return strings.Compare(a.Partition, b.Partition) })
	return all
}

// Suspend drops all sessions and state of one partition's hub.
func (d *Directory) Suspend(partition string) error {
	h, ok := d.lookup(partition)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPartitionNotFound, partition)
	}
	return h.Suspend()
}

// Reap hibernates hubs idle for longer than IdleSuspendAfter and returns how
// many were removed.
func (d *Directory) Reap() int {
	reaped := 0
	for _, h := range d.snapshot() {
		stopped, err := h.Hibernate(d.cfg.IdleSuspendAfter)
		if err != nil && !errors.Is(err, domain.ErrHubStopped) {
			slog.Warn("Hibernate check failed", "partition", h.Partition(), "error", err)
			continue
		}
		if stopped || errors.Is(err, domain.ErrHubStopped) {
			d.forget(h.Partition(), h)
			reaped++
		}
	}
	return reaped
}

// Stop shuts down every hub and the janitor.
func (d *Directory) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()

	d.mu.Lock()
	d.stopped = true
	hubs := make([]*Hub, 0, len(d.hubs))
	for p, h := range d.hubs {
		hubs = append(hubs, h)
		delete(d.hubs, p)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range hubs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Stop()
		}()
	}
	wg.Wait()
	slog.Info("Directory stopped", "hubs", len(hubs))
}

func (d *Directory) hubFor(partition string) (*Hub, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil, domain.ErrHubStopped
	}
	if h, ok := d.hubs[partition]; ok {
		return h, nil
	}

	cfg := d.cfg.Hub
	cfg.Partition = partition
	h := NewHub(cfg, d.clock, d.metrics)
	d.hubs[partition] = h
	slog.Info("Hub created", "partition", partition)
	return h, nil
}

func (d *Directory) lookup(partition string) (*Hub, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hubs[partition]
	return h, ok
}

// forget removes h only if it is still the partition's current hub.
func (d *Directory) forget(partition string, h *Hub) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hubs[partition] == h {
		delete(d.hubs, partition)
	}
}

func (d *Directory) snapshot() []*Hub {
	d.mu.Lock()
	defer d.mu.Unlock()

	hubs := make([]*Hub, 0, len(d.hubs))
	for _, h := range d.hubs {
		hubs = append(hubs, h)
	}
	return hubs
}

func (d *Directory) runJanitor(interval time.Duration) {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if n := d.Reap(); n > 0 {
				slog.Info("Idle hubs hibernated", "count", n)
			}
		case <-d.stopCh:
			return
		}
	}
}
