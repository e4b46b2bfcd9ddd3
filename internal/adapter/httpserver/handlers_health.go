package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Name     string  `json:"name"`
	Healthy  bool    `json:"healthy"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_ms"`
}

type healthReport struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.probe(startupProbeTimeout))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.probe(readinessProbeTimeout))
	s.echo.GET("/version", s.handleVersion)
}

// handleLiveness never touches dependencies; a stuck database must not get
// the process restarted.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":      "ok",
		"uptime":      s.clock.Since(s.startTime).Seconds(),
		"connections": s.limits.Current(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// probe runs every health check concurrently under one deadline and answers
// 503 if any of them failed.
func (s *Server) probe(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		report := s.runHealthChecks(ctx)
		status := http.StatusOK
		if report.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		if err := c.JSON(status, report); err != nil {
			return fmt.Errorf("failed to write health response: %w", err)
		}
		return nil
	}
}

func (s *Server) runHealthChecks(ctx context.Context) healthReport {
	results := make([]checkResult, len(s.healthChecks))

	var wg sync.WaitGroup
	for i, hc := range s.healthChecks {
		wg.Go(func() {
			start := s.clock.Now()
			err := hc.Check(ctx)
			results[i] = checkResult{
				Name:     hc.Name,
				Healthy:  err == nil,
				Duration: float64(s.clock.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				results[i].Error = err.Error()
			}
		})
	}
	wg.Wait()

	report := healthReport{Status: "ready", Checks: results}
	for _, r := range results {
		if !r.Healthy {
			report.Status = "unhealthy"
			break
		}
	}
	return report
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
