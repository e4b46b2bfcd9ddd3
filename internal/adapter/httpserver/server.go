package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/config"
	"github.com/PalachSHAXA/kamizo-sub004/internal/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Directory is the realtime surface the HTTP layer drives.
type Directory interface {
	Connect(ctx context.Context, identity domain.Identity, conn realtime.Conn) (realtime.SessionHandle, error)
	HandleMessage(partition string, sessionID uuid.UUID, raw []byte) error
	Touch(partition string, sessionID uuid.UUID)
	Disconnect(partition string, sessionID uuid.UUID)
	Liveness(partition string) (realtime.Stats, error)
	Stats() []realtime.Stats
	Suspend(partition string) error
}

// CacheInvalidator drops cached deltas of a collection on every instance.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, collection string) (int, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	directory    Directory
	invalidator  CacheInvalidator
	auth         *Authenticator
	limits       *ConnectionLimits
	upgrader     websocket.Upgrader
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP surface. invalidator may be nil when the delta
// cache is disabled.
func NewServer(cfg *config.Config, clock clockwork.Clock, directory Directory, invalidator CacheInvalidator, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:        e,
		config:      cfg,
		clock:       clock,
		directory:   directory,
		invalidator: invalidator,
		auth:        NewAuthenticator(cfg.JWTSecret, clock),
		limits: NewConnectionLimits(
			int64(cfg.MaxWebSocketConnections),
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRate,
			cfg.ConnectionBurst,
			clock,
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
		},
		registry:     registry,
		httpMetrics:  httpMetrics,
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

// ServeHTTP lets the server be mounted directly, e.g. in httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
