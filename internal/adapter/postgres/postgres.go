package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	applicationName   = "kamizo-realtime"
	healthCheckPeriod = 30 * time.Second

	// schemaLockKey serialises migrations across instances ("kamizo" in hex).
	schemaLockKey     = 0x6b616d697a6f
	schemaUnlockGrace = 5 * time.Second
	versionTable      = "public.schema_version"
)

// Connect opens a pool and verifies it with a ping. tracer may be nil.
// Pollers hold connections only for the duration of one query, so the pool
// is tagged with an application name to tell its sessions apart in
// pg_stat_activity.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.HealthCheckPeriod = healthCheckPeriod
	if _, set := cfg.ConnConfig.RuntimeParams["application_name"]; !set {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if tracer != nil {
		cfg.ConnConfig.Tracer = tracer
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"sslmode", sslModeOf(databaseURL),
		"max_conns", cfg.MaxConns,
	)
	return pool, nil
}

func sslModeOf(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		return strings.ToLower(mode)
	}
	return "prefer"
}

// RunMigrationsWithLock brings the schema up to date. Instances starting
// together take turns through a session-level advisory lock.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	return withSchemaLock(ctx, conn.Conn(), func() error {
		return migrateSchema(ctx, conn.Conn())
	})
}

func withSchemaLock(ctx context.Context, conn *pgx.Conn, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		// The caller's context may already be cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), schemaUnlockGrace)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", schemaLockKey); err != nil {
			slog.Error("Failed to release migration lock", "error", err)
		}
	}()

	return fn()
}

func migrateSchema(ctx context.Context, conn *pgx.Conn) error {
	sqlFiles, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	m, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.LoadMigrations(sqlFiles); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	from, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	target := int32(len(m.Migrations))
	if from == target {
		slog.Info("Schema up to date", "version", from)
		return nil
	}

	m.OnStart = func(sequence int32, name, _, _ string) {
		slog.Info("Applying migration", "sequence", sequence, "name", name)
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database from version %d: %w", from, err)
	}
	slog.Info("Schema migrated", "from", from, "to", target)
	return nil
}
