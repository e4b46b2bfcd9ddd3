package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/correlation"
	"github.com/jonboulle/clockwork"
)

const (
	defaultStoreTimeout = 2 * time.Second
	defaultFetchLimit   = 50
)

// Collection is one watched backing-store collection. The poll cadence is
// shared by all collections; only the look-back window differs.
type Collection struct {
	Name     string
	Lookback time.Duration
	Limit    int
	Source   domain.CollectionSource
}

// Poller detects changes by fingerprinting each collection and dispatches
// the fetched rows when a fingerprint moves. Fingerprints are recorded only
// after every row of the delta has been dispatched.
type Poller struct {
	scope        string
	collections  []Collection
	dispatcher   *Dispatcher
	clock        clockwork.Clock
	storeTimeout time.Duration
	metrics      *metrics.RealtimeMetrics

	inFlight atomic.Bool

	mu    sync.Mutex
	state map[string]string
}

// NewPoller creates a poller for one partition. scope is the store-level
// partition filter; empty means every building.
func NewPoller(scope string, collections []Collection, dispatcher *Dispatcher, clock clockwork.Clock, storeTimeout time.Duration, m *metrics.RealtimeMetrics) *Poller {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Poller{
		scope:        scope,
		collections:  collections,
		dispatcher:   dispatcher,
		clock:        clock,
		storeTimeout: storeTimeout,
		metrics:      m,
		state:        make(map[string]string),
	}
}

// Tick polls every collection once. A tick that starts while another is
// still running is skipped.
func (p *Poller) Tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.PollSkipped()
		slog.DebugContext(ctx, "Poll tick skipped, previous tick in flight", "scope", p.scope)
		return
	}
	defer p.inFlight.Store(false)

	ctx = correlation.WithID(ctx, correlation.NewID())
	start := p.clock.Now()

	for _, c := range p.collections {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx, c)
	}

	p.metrics.PollTick(p.clock.Since(start))
}

// Fingerprint returns the last dispatched fingerprint of a collection.
func (p *Poller) Fingerprint(collection string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state[collection]
}

func (p *Poller) poll(ctx context.Context, c Collection) {
	q := domain.Query{
		Partition: p.scope,
		Lookback:  c.Lookback,
		Limit:     c.Limit,
	}
	if q.Limit <= 0 {
		q.Limit = defaultFetchLimit
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	fingerprint, err := c.Source.Fingerprint(storeCtx, q)
	cancel()
	if err != nil {
		p.fail(ctx, c.Name, "fingerprint", err)
		return
	}

	// No recent rows. Never a change on its own.
	if fingerprint == "" || fingerprint == p.Fingerprint(c.Name) {
		return
	}

	q.Fingerprint = fingerprint
	storeCtx, cancel = context.WithTimeout(ctx, p.storeTimeout)
	rows, err := c.Source.FetchRecent(storeCtx, q)
	cancel()
	if err != nil {
		p.fail(ctx, c.Name, "fetch", err)
		return
	}

	// Torn down while the fetch was outstanding: drop the result.
	if ctx.Err() != nil {
		return
	}

	p.metrics.DeltaDetected(c.Name)
	slog.DebugContext(ctx, "Delta detected", "scope", p.scope, "collection", c.Name, "rows", len(rows))

	for _, row := range rows {
		if _, err := p.dispatcher.Dispatch(ctx, domain.NewUpdateMessage(row)); err != nil {
			p.fail(ctx, c.Name, "dispatch", err)
			return
		}
	}

	p.mu.Lock()
	p.state[c.Name] = fingerprint
	p.mu.Unlock()
}

func (p *Poller) fail(ctx context.Context, collection, stage string, err error) {
	if ctx.Err() != nil {
		return
	}
	p.metrics.PollFailed(collection, stage)
	slog.WarnContext(ctx, "Poll failed, retrying next tick",
		"scope", p.scope,
		"collection", collection,
		"stage", stage,
		"error", err,
	)
}
