package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minJWTSecretLength = 32

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	PollInterval            time.Duration `env:"POLL_INTERVAL" default:"3s"`
	StoreTimeout            time.Duration `env:"STORE_TIMEOUT" default:"2s"`
	HeartbeatTimeout        time.Duration `env:"HEARTBEAT_TIMEOUT" default:"90s"`
	SweepInterval           time.Duration `env:"SWEEP_INTERVAL" default:"15s"`
	SendTimeout             time.Duration `env:"SEND_TIMEOUT" default:"5s"`
	SendBuffer              int           `env:"SEND_BUFFER" default:"32"`
	MaxSessionsPerPartition int           `env:"MAX_SESSIONS_PER_PARTITION" default:"5000"`
	IdleSuspendAfter        time.Duration `env:"IDLE_SUSPEND_AFTER" default:"5m"`
	FetchLimit              int           `env:"FETCH_LIMIT" default:"50"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	CacheEnabled   bool          `env:"CACHE_ENABLED" default:"true"`
	CacheMemoryTTL time.Duration `env:"CACHE_MEMORY_TTL" default:"30s"`
	CacheRedisTTL  time.Duration `env:"CACHE_REDIS_TTL" default:"10m"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.CacheEnabled && cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required when CACHE_ENABLED is true")
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}

	if cfg.PollInterval < 100*time.Millisecond {
		return errors.New("POLL_INTERVAL must be at least 100ms")
	}
	if cfg.StoreTimeout <= 0 || cfg.StoreTimeout > cfg.PollInterval {
		return errors.New("STORE_TIMEOUT must be positive and no longer than POLL_INTERVAL")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if cfg.HeartbeatTimeout <= cfg.SweepInterval {
		return errors.New("HEARTBEAT_TIMEOUT must be longer than SWEEP_INTERVAL")
	}
	if cfg.SendTimeout <= 0 {
		return errors.New("SEND_TIMEOUT must be positive")
	}
	if cfg.SendBuffer < 1 {
		return errors.New("SEND_BUFFER must be at least 1")
	}
	if cfg.IdleSuspendAfter < 0 {
		return errors.New("IDLE_SUSPEND_AFTER must not be negative")
	}
	if cfg.FetchLimit < 1 || cfg.FetchLimit > 1000 {
		return errors.New("FETCH_LIMIT must be between 1 and 1000")
	}

	limits := map[string]int{
		"MAX_SESSIONS_PER_PARTITION": cfg.MaxSessionsPerPartition,
		"MAX_WEBSOCKET_CONNECTIONS":  cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":     cfg.MaxConnectionsPerIP,
		"CONNECTION_BURST":           cfg.ConnectionBurst,
	}
	for name, value := range limits {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if cfg.ConnectionRate <= 0 {
		return errors.New("CONNECTION_RATE must be positive")
	}

	if cfg.CacheEnabled && (cfg.CacheMemoryTTL <= 0 || cfg.CacheRedisTTL < cfg.CacheMemoryTTL) {
		return errors.New("CACHE_MEMORY_TTL must be positive and no longer than CACHE_REDIS_TTL")
	}

	if cfg.IsProduction() {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
