package httpserver

import (
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/PalachSHAXA/kamizo-sub004/internal/platform/errors"
	"github.com/PalachSHAXA/kamizo-sub004/internal/realtime"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	apiRequestsPerSecond = 5
	apiBurst             = 20
	apiLimiterExpiry     = 3 * time.Minute
)

func (s *Server) registerAPIRoutes() {
	limiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(apiRequestsPerSecond),
			Burst:     apiBurst,
			ExpiresIn: apiLimiterExpiry,
		},
	))

	api := s.echo.Group("/api", limiter, s.requireManagement)
	api.GET("/partitions", s.handleListPartitions)
	api.GET("/partitions/:partition/liveness", s.handlePartitionLiveness)
	api.POST("/partitions/:partition/suspend", s.handleSuspendPartition)
	api.POST("/cache/invalidate/:collection", s.handleInvalidateCache)
}

type partitionsResponse struct {
	Partitions []realtime.Stats `json:"partitions"`
}

func (s *Server) handleListPartitions(c echo.Context) error {
	stats := s.directory.Stats()
	if stats == nil {
		stats = []realtime.Stats{}
	}
	if err := c.JSON(http.StatusOK, partitionsResponse{Partitions: stats}); err != nil {
		return fmt.Errorf("failed to write partitions response: %w", err)
	}
	return nil
}

func (s *Server) handlePartitionLiveness(c echo.Context) error {
	partition := c.Param("partition")

	stats, err := s.directory.Liveness(partition)
	if err != nil {
		return apperrors.AsStructuredError(err).WithContext("partition", partition)
	}
	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleSuspendPartition(c echo.Context) error {
	partition := c.Param("partition")

	if err := s.directory.Suspend(partition); err != nil {
		return apperrors.AsStructuredError(err).WithContext("partition", partition)
	}
	return c.NoContent(http.StatusNoContent)
}

type invalidateResponse struct {
	Collection string `json:"collection"`
	Removed    int    `json:"removed"`
}

func (s *Server) handleInvalidateCache(c echo.Context) error {
	if s.invalidator == nil {
		return apperrors.UnavailableError("delta cache is disabled", nil)
	}

	collection := c.Param("collection")
	removed, err := s.invalidator.Invalidate(c.Request().Context(), collection)
	if err != nil {
		return apperrors.AsStructuredError(err).WithContext("collection", collection)
	}
	if err := c.JSON(http.StatusOK, invalidateResponse{Collection: collection, Removed: removed}); err != nil {
		return fmt.Errorf("failed to write invalidate response: %w", err)
	}
	return nil
}
