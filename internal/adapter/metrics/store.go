package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics holds Prometheus metrics for backing-store queries and the
// redis client.
type StoreMetrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	RedisDuration *prometheus.HistogramVec
	RedisErrors   *prometheus.CounterVec
	BreakerState  prometheus.Gauge
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds, by query.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"query"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Total number of failed database queries, by query.",
		}, []string{"query"}),
		RedisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of redis commands in seconds, by command.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"command"}),
		RedisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "errors_total",
			Help:      "Total number of failed redis commands, by command.",
		}, []string{"command"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
	}

	reg.MustRegister(m.QueryDuration, m.QueryErrors, m.RedisDuration, m.RedisErrors, m.BreakerState)
	return m
}

// ObserveRedis records one redis command. Nil-safe.
func (m *StoreMetrics) ObserveRedis(command string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.RedisDuration.WithLabelValues(command).Observe(seconds)
	if failed {
		m.RedisErrors.WithLabelValues(command).Inc()
	}
}

func (m *StoreMetrics) SetBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BreakerState.Set(state)
}
