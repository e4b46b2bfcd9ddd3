package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/httpserver"
	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/postgres"
	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/redis"
	"github.com/PalachSHAXA/kamizo-sub004/internal/app"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/config"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/logging"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/retry"
	"github.com/PalachSHAXA/kamizo-sub004/internal/platform/version"
	"github.com/PalachSHAXA/kamizo-sub004/internal/realtime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	connectAttemptTimeout = 10 * time.Second
	shutdownTimeout       = 10 * time.Second
	cacheEvictionInterval = time.Minute
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// untilCancelled retries every failure until the boot context ends.
func untilCancelled(ctx context.Context) retry.Classify {
	return func(error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		return retry.Retry
	}
}

func startupPolicy(target string) retry.Policy {
	p := retry.Startup
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Dependency not reachable, retrying", "target", target, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics) *pgxpool.Pool {
	pool, err := retry.Do(ctx, startupPolicy("postgres"), untilCancelled(ctx), func(ctx context.Context) (*pgxpool.Pool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, connectAttemptTimeout)
		defer cancel()
		return postgres.Connect(attemptCtx, cfg.DatabaseURL, postgres.NewMetricsTracer(m))
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics) *goredis.Client {
	client, err := retry.Do(ctx, startupPolicy("redis"), untilCancelled(ctx), func(ctx context.Context) (*goredis.Client, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, connectAttemptTimeout)
		defer cancel()
		return redis.NewClient(attemptCtx, cfg.RedisURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func directoryConfig(cfg *config.Config, collections []realtime.Collection) realtime.DirectoryConfig {
	return realtime.DirectoryConfig{
		Hub: realtime.HubConfig{
			Collections:      collections,
			PollInterval:     cfg.PollInterval,
			StoreTimeout:     cfg.StoreTimeout,
			HeartbeatTimeout: cfg.HeartbeatTimeout,
			SweepInterval:    cfg.SweepInterval,
			SendTimeout:      cfg.SendTimeout,
			SendBuffer:       cfg.SendBuffer,
			MaxSessions:      cfg.MaxSessionsPerPartition,
		},
		IdleSuspendAfter: cfg.IdleSuspendAfter,
	}
}

func runGracefulShutdown(cancel context.CancelFunc, srv *httpserver.Server, dir *realtime.Directory) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		dir.Stop()
		cancel()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", append([]any{"env", cfg.AppEnv, "port", cfg.Port}, version.Get().LogAttrs()...)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(registry)
	realtimeMetrics := metrics.NewRealtimeMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	pool := setupDB(ctx, cfg, storeMetrics)
	defer pool.Close()

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}

	var (
		cache       *redis.DeltaCache
		invalidator httpserver.CacheInvalidator
	)
	if cfg.CacheEnabled {
		redisClient := setupRedis(ctx, cfg, storeMetrics)
		defer func() { _ = redisClient.Close() }()

		cache = redis.NewDeltaCache(redisClient, clock, cfg.CacheMemoryTTL, cfg.CacheRedisTTL, metrics.NewCacheMetrics(registry))
		stopEviction := cache.StartEvictionTimer(cacheEvictionInterval)
		defer stopEviction()

		go redis.NewInvalidationSubscriber(redisClient, cache).Start(ctx)

		invalidator = app.NewCacheInvalidator(cache, redisClient)
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		slog.Info("Delta cache disabled")
	}

	collections := app.Collections(pool, cache, cfg.FetchLimit)
	dir := realtime.NewDirectory(directoryConfig(cfg, collections), clock, realtimeMetrics)

	srv := httpserver.NewServer(cfg, clock, dir, invalidator, registry, httpMetrics, healthChecks)

	done := runGracefulShutdown(cancel, srv, dir)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
