package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilReceiversAreSafe(t *testing.T) {
	var rt *RealtimeMetrics
	var cache *CacheMetrics
	var store *StoreMetrics
	var h *HTTPMetrics

	assert.NotPanics(t, func() {
		rt.SessionOpened()
		rt.SessionClosed()
		rt.SessionRejected("partition_full")
		rt.SessionEvicted()
		rt.HubStarted()
		rt.HubStopped()
		rt.HubSuspended()
		rt.HubPanicked()
		rt.PollingChanged(true)
		rt.MessageMalformed()
		rt.PollTick(time.Millisecond)
		rt.PollSkipped()
		rt.PollFailed("requests", "fetch")
		rt.DeltaDetected("requests")
		rt.Delivered(3)
		rt.SendFailed("buffer_full")

		cache.Hit("memory")
		cache.Miss("redis")
		cache.Invalidated("local")

		store.ObserveRedis("get", 0.01, false)
		store.SetBreakerState(1)

		h.Error("internal")
	})
}

func TestRealtimeMetrics(t *testing.T) {
	m := NewRealtimeMetrics(NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.PollingChanged(true)
	m.PollFailed("requests", "fingerprint")
	m.Delivered(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollingHubs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrorsTotal.WithLabelValues("requests", "fingerprint")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DeliveredTotal))
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	m := NewHTTPMetrics(NewRegistry())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/partitions", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/api/partitions", "/api/partitions", "/health/live"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/partitions", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewCacheMetrics(reg)
	m.Hit("memory")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `kamizo_delta_cache_hits_total{layer="memory"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

func TestHTTPMetrics_CountsPassThroughErrors(t *testing.T) {
	m := NewHTTPMetrics(NewRegistry())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/partitions", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/partitions", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/partitions", "401")))
}
