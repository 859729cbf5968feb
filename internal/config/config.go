// Package config loads agentid server configuration from AGENTID_*
// environment variables. Command flags override individual fields.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the resolved server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// DBPath is the SQLite file holding authorizations, reputation and
	// verification logs. Empty keeps everything in memory.
	DBPath string

	// PostgresDSN selects the gorm credential repository. Empty keeps
	// credentials in memory.
	PostgresDSN string

	// RedisAddr shares rate-limit counters across instances.
	RedisAddr string

	// TrustDir holds issuer keys when no Postgres DSN is set.
	TrustDir string

	// RevocationCachePath is the file-backed revocation list.
	RevocationCachePath string

	SweepInterval          time.Duration
	RevocationSyncInterval time.Duration
	CacheTTL               time.Duration

	WebhookURL    string
	WebhookSecret string

	// GatewayTarget and GatewaySecret configure `agentid gateway`.
	GatewayTarget string
	GatewaySecret string

	Workers   int
	LogFormat string
	LogLevel  string
}

// Defaults.
const (
	DefaultAddr                   = ":8080"
	DefaultSweepInterval          = time.Minute
	DefaultRevocationSyncInterval = 5 * time.Minute
	DefaultCacheTTL               = 5 * time.Minute
	DefaultWorkers                = 4
)

// FromEnv reads the environment, applying defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                envDefault("AGENTID_ADDR", DefaultAddr),
		DBPath:              os.Getenv("AGENTID_DB_PATH"),
		PostgresDSN:         os.Getenv("AGENTID_POSTGRES_DSN"),
		RedisAddr:           os.Getenv("AGENTID_REDIS_ADDR"),
		TrustDir:            os.Getenv("AGENTID_TRUST_PATH"),
		RevocationCachePath: os.Getenv("AGENTID_REVOCATION_CACHE"),
		WebhookURL:          os.Getenv("AGENTID_WEBHOOK_URL"),
		WebhookSecret:       os.Getenv("AGENTID_WEBHOOK_SECRET"),
		GatewayTarget:       os.Getenv("AGENTID_GATEWAY_TARGET"),
		GatewaySecret:       os.Getenv("AGENTID_GATEWAY_SECRET"),
		LogFormat:           envDefault("AGENTID_LOG_FORMAT", "text"),
		LogLevel:            envDefault("AGENTID_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.SweepInterval, err = envDuration("AGENTID_SWEEP_INTERVAL", DefaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.RevocationSyncInterval, err = envDuration("AGENTID_REVOCATION_SYNC_INTERVAL", DefaultRevocationSyncInterval); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration("AGENTID_CACHE_TTL", DefaultCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = envInt("AGENTID_WORKERS", DefaultWorkers); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Logger builds the process logger from LogFormat and LogLevel.
func (c Config) Logger() *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
