package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the delta cache.
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
}

// NewCacheMetrics creates and registers cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delta_cache",
			Name:      "hits_total",
			Help:      "Total number of delta cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delta_cache",
			Name:      "misses_total",
			Help:      "Total number of delta cache misses, by layer.",
		}, []string{"layer"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delta_cache",
			Name:      "invalidations_total",
			Help:      "Total number of delta cache invalidations, by origin.",
		}, []string{"origin"}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Invalidations)
	return m
}

func (m *CacheMetrics) Hit(layer string) {
	if m == nil {
		return
	}
	m.Hits.WithLabelValues(layer).Inc()
}

func (m *CacheMetrics) Miss(layer string) {
	if m == nil {
		return
	}
	m.Misses.WithLabelValues(layer).Inc()
}

func (m *CacheMetrics) Invalidated(origin string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(origin).Inc()
}
