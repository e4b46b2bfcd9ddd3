package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RealtimeMetrics holds Prometheus metrics for hubs, sessions and polling.
// All methods are safe to call on a nil receiver.
type RealtimeMetrics struct {
	ActiveSessions    prometheus.Gauge
	ActiveHubs        prometheus.Gauge
	PollingHubs       prometheus.Gauge
	ConnectsTotal     prometheus.Counter
	RejectedTotal     *prometheus.CounterVec
	EvictionsTotal    prometheus.Counter
	SuspensionsTotal  prometheus.Counter
	HubPanicsTotal    prometheus.Counter
	MalformedTotal    prometheus.Counter
	PollTicksTotal    prometheus.Counter
	PollSkippedTotal  prometheus.Counter
	PollErrorsTotal   *prometheus.CounterVec
	PollDuration      prometheus.Histogram
	DeltasTotal       *prometheus.CounterVec
	DeliveredTotal    prometheus.Counter
	SendFailuresTotal *prometheus.CounterVec
}

// NewRealtimeMetrics creates and registers realtime metrics on the given registry.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_sessions",
			Help:      "Number of live client sessions across all hubs.",
		}),
		ActiveHubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_hubs",
			Help:      "Number of partition hubs held in memory.",
		}),
		PollingHubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "polling_hubs",
			Help:      "Number of hubs with an active poll loop.",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connects_total",
			Help:      "Total number of accepted sessions.",
		}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "rejected_total",
			Help:      "Total number of rejected connections, by reason.",
		}, []string{"reason"}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "heartbeat_evictions_total",
			Help:      "Total number of sessions evicted for missing heartbeats.",
		}),
		SuspensionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "hub_suspensions_total",
			Help:      "Total number of hubs suspended.",
		}),
		HubPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "hub_panics_total",
			Help:      "Total number of panics recovered in hub goroutines.",
		}),
		MalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "malformed_messages_total",
			Help:      "Total number of ignored client messages.",
		}),
		PollTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Total number of poll ticks run.",
		}),
		PollSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_skipped_total",
			Help:      "Total number of poll ticks skipped because one was in flight.",
		}),
		PollErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "errors_total",
			Help:      "Total number of store errors, by collection and stage.",
		}, []string{"collection", "stage"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full poll tick in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		DeltasTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "deltas_total",
			Help:      "Total number of detected deltas, by collection.",
		}, []string{"collection"}),
		DeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "delivered_total",
			Help:      "Total number of messages queued to sessions.",
		}),
		SendFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "send_failures_total",
			Help:      "Total number of failed session sends, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ActiveSessions, m.ActiveHubs, m.PollingHubs,
		m.ConnectsTotal, m.RejectedTotal, m.EvictionsTotal,
		m.SuspensionsTotal, m.HubPanicsTotal, m.MalformedTotal,
		m.PollTicksTotal, m.PollSkippedTotal, m.PollErrorsTotal, m.PollDuration, m.DeltasTotal,
		m.DeliveredTotal, m.SendFailuresTotal,
	)
	return m
}

func (m *RealtimeMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ConnectsTotal.Inc()
	m.ActiveSessions.Inc()
}

func (m *RealtimeMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *RealtimeMetrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *RealtimeMetrics) SessionEvicted() {
	if m == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

func (m *RealtimeMetrics) HubStarted() {
	if m == nil {
		return
	}
	m.ActiveHubs.Inc()
}

func (m *RealtimeMetrics) HubStopped() {
	if m == nil {
		return
	}
	m.ActiveHubs.Dec()
}

func (m *RealtimeMetrics) HubSuspended() {
	if m == nil {
		return
	}
	m.SuspensionsTotal.Inc()
}

func (m *RealtimeMetrics) HubPanicked() {
	if m == nil {
		return
	}
	m.HubPanicsTotal.Inc()
}

func (m *RealtimeMetrics) PollingChanged(active bool) {
	if m == nil {
		return
	}
	if active {
		m.PollingHubs.Inc()
	} else {
		m.PollingHubs.Dec()
	}
}

func (m *RealtimeMetrics) MessageMalformed() {
	if m == nil {
		return
	}
	m.MalformedTotal.Inc()
}

func (m *RealtimeMetrics) PollTick(d time.Duration) {
	if m == nil {
		return
	}
	m.PollTicksTotal.Inc()
	m.PollDuration.Observe(d.Seconds())
}

func (m *RealtimeMetrics) PollSkipped() {
	if m == nil {
		return
	}
	m.PollSkippedTotal.Inc()
}

func (m *RealtimeMetrics) PollFailed(collection, stage string) {
	if m == nil {
		return
	}
	m.PollErrorsTotal.WithLabelValues(collection, stage).Inc()
}

func (m *RealtimeMetrics) DeltaDetected(collection string) {
	if m == nil {
		return
	}
	m.DeltasTotal.WithLabelValues(collection).Inc()
}

func (m *RealtimeMetrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.DeliveredTotal.Add(float64(n))
}

func (m *RealtimeMetrics) SendFailed(reason string) {
	if m == nil {
		return
	}
	m.SendFailuresTotal.WithLabelValues(reason).Inc()
}
