// Package config loads engine configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for fedsearch-engine.
// Environment variables always override YAML values. Secrets (passwords,
// keys) must only come from environment variables (yaml:"-" fields).
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine-owned metadata store (tenant connection registry).
	Database DatabaseConfig `yaml:"database"`

	// Cache gateway.
	Redis RedisConfig `yaml:"redis"`

	// Per-tenant connection pool tuning.
	Pool PoolConfig `yaml:"pool"`

	// Advisory AI endpoint.
	Advisor AdvisorConfig `yaml:"advisor"`

	// Search pipeline tuning.
	Search SearchConfig `yaml:"search"`

	// Encryption key for tenant database passwords at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"TENANT_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds the engine's own PostgreSQL metadata store settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"fedsearch"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"fedsearch_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string for the metadata store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds cache gateway settings. An empty host disables the
// cache entirely; the engine then runs uncached and rate limiting fails open.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// ProbeIntervalSeconds is how often availability is re-probed after the
	// gateway marks itself disconnected.
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds" env:"REDIS_PROBE_INTERVAL_SECONDS" env-default:"5"`
}

// Addr returns the host:port address of the redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PoolConfig holds per-tenant connection pool tuning.
type PoolConfig struct {
	// MaxConnsPerTenant bounds each tenant pool.
	MaxConnsPerTenant int32 `yaml:"max_conns_per_tenant" env:"POOL_MAX_CONNS_PER_TENANT" env-default:"5"`
	// AcquireTimeoutSeconds bounds waiting for a pooled connection.
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds" env:"POOL_ACQUIRE_TIMEOUT_SECONDS" env-default:"60"`
	// ProbeTimeoutSeconds bounds the liveness ping at registration time.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" env:"POOL_PROBE_TIMEOUT_SECONDS" env-default:"10"`
}

// AdvisorConfig holds the OpenAI-compatible advisory endpoint settings.
// An empty endpoint disables the advisor; every advisory field then
// degrades to its empty default.
type AdvisorConfig struct {
	Endpoint       string `yaml:"endpoint" env:"ADVISOR_ENDPOINT" env-default:""`
	Model          string `yaml:"model" env:"ADVISOR_MODEL" env-default:""`
	APIKey         string `yaml:"-" env:"ADVISOR_API_KEY"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"ADVISOR_TIMEOUT_SECONDS" env-default:"10"`
}

// IsConfigured returns true if an advisor endpoint is set.
func (c *AdvisorConfig) IsConfigured() bool {
	return c.Endpoint != "" && c.Model != ""
}

// SearchConfig holds search pipeline tuning.
type SearchConfig struct {
	// CacheTTLSeconds is how long memoized search responses live.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"SEARCH_CACHE_TTL_SECONDS" env-default:"300"`
	// RateLimitPerWindow is the fixed-window request quota per requester.
	RateLimitPerWindow int `yaml:"rate_limit_per_window" env:"SEARCH_RATE_LIMIT_PER_WINDOW" env-default:"60"`
	// RateLimitWindowSeconds is the fixed-window length.
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds" env:"SEARCH_RATE_LIMIT_WINDOW_SECONDS" env-default:"60"`
	// MaxSuggestions caps merged suggestion lists.
	MaxSuggestions int `yaml:"max_suggestions" env:"SEARCH_MAX_SUGGESTIONS" env-default:"10"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. If config.yaml does not exist, configuration comes from
// environment variables and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("TENANT_CREDENTIALS_KEY must be set")
	}

	return cfg, nil
}
