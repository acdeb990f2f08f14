// Package config defines the resolver's configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/settlement"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RESOLVER_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Memory     MemoryConfig     `toml:"memory"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Server     ServerConfig     `toml:"server"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	// StoreDriver selects the settlement store: "postgres" or "memory".
	StoreDriver string `toml:"store_driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	ConnectTimeout  duration `toml:"connect_timeout"`
	MaxConnIdleTime duration `toml:"max_conn_idle_time"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// MemoryConfig configures the in-process store used for demos and tests.
type MemoryConfig struct {
	// FixturesPath is a JSON array of market snapshots loaded at startup.
	FixturesPath string `toml:"fixtures_path"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the resolver runs without the advisory lock, bus and cache.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	ResultTTL    duration `toml:"result_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for report archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettlementConfig holds the calculator tunables and commit behaviour.
type SettlementConfig struct {
	CurrencyScale       int32    `toml:"currency_scale"`
	BasePoints          float64  `toml:"base_points"`
	ProbabilityEpsilon  float64  `toml:"probability_epsilon"`
	MaxPointsPerBet     int64    `toml:"max_points_per_bet"`
	TasteMatchIncrement float64  `toml:"taste_match_increment"`
	MaxCorrectUsers     int      `toml:"max_correct_users"`
	AllowEmptyMarkets   bool     `toml:"allow_empty_markets"`
	LockTTL             duration `toml:"lock_ttl"`
	LockWait            duration `toml:"lock_wait"`
}

// Engine converts the tunables into the calculator configuration.
func (s SettlementConfig) Engine() settlement.Config {
	return settlement.Config{
		CurrencyScale:       s.CurrencyScale,
		BasePoints:          s.BasePoints,
		ProbabilityEpsilon:  s.ProbabilityEpsilon,
		MaxPointsPerBet:     s.MaxPointsPerBet,
		TasteMatchIncrement: s.TasteMatchIncrement,
		MaxCorrectUsers:     s.MaxCorrectUsers,
	}
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the resolve endpoint. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is the number of requests per client per minute on the
	// resolution routes. Zero disables limiting; it needs Redis.
	RateLimit int `toml:"rate_limit"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	engine := settlement.DefaultConfig()
	return Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "resolver",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			ConnectTimeout:  duration{5 * time.Second},
			MaxConnIdleTime: duration{5 * time.Minute},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "resolver:",
			ResultTTL:    duration{24 * time.Hour},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "resolver-reports",
			Prefix:         "resolutions",
			ForcePathStyle: true,
		},
		Settlement: SettlementConfig{
			CurrencyScale:       engine.CurrencyScale,
			BasePoints:          engine.BasePoints,
			ProbabilityEpsilon:  engine.ProbabilityEpsilon,
			MaxPointsPerBet:     engine.MaxPointsPerBet,
			TasteMatchIncrement: engine.TasteMatchIncrement,
			MaxCorrectUsers:     engine.MaxCorrectUsers,
			LockTTL:             duration{30 * time.Second},
			LockWait:            duration{5 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   60,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "resolver",
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "error"},
		},
		Mode:        "server",
		LogLevel:    "info",
		StoreDriver: "postgres",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"resolve": true,
	"preview": true,
	"migrate": true,
	"seed":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, resolve, preview, migrate, seed)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.StoreDriver {
	case "postgres":
		errs = append(errs, c.Postgres.validate()...)
	case "memory":
		if c.Mode == "migrate" || c.Mode == "seed" {
			errs = append(errs, fmt.Sprintf("mode %s requires store_driver postgres", c.Mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store_driver %q (valid: postgres, memory)", c.StoreDriver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.ResultTTL.Duration < 0 {
			errs = append(errs, "redis: result_ttl must not be negative")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	s := c.Settlement
	if s.CurrencyScale < 0 || s.CurrencyScale > 8 {
		errs = append(errs, fmt.Sprintf("settlement: currency_scale must be 0-8, got %d", s.CurrencyScale))
	}
	if s.BasePoints <= 0 {
		errs = append(errs, "settlement: base_points must be > 0")
	}
	if s.ProbabilityEpsilon <= 0 || s.ProbabilityEpsilon >= 1 {
		errs = append(errs, "settlement: probability_epsilon must be in (0, 1)")
	}
	if s.MaxPointsPerBet < 1 {
		errs = append(errs, "settlement: max_points_per_bet must be >= 1")
	}
	if s.TasteMatchIncrement <= 0 {
		errs = append(errs, "settlement: taste_match_increment must be > 0")
	}
	if s.MaxCorrectUsers < 0 {
		errs = append(errs, "settlement: max_correct_users must be >= 0 (0 disables the cap)")
	}
	if s.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0")
	}
	if s.LockWait.Duration < 0 {
		errs = append(errs, "settlement: lock_wait must not be negative")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p PostgresConfig) validate() []string {
	var errs []string
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	return errs
}
