package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RESOLVER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RESOLVER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RESOLVER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "RESOLVER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RESOLVER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RESOLVER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RESOLVER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RESOLVER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RESOLVER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RESOLVER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RESOLVER_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnectTimeout, "RESOLVER_POSTGRES_CONNECT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "RESOLVER_POSTGRES_RUN_MIGRATIONS")

	// ── Memory ──
	setStr(&cfg.Memory.FixturesPath, "RESOLVER_MEMORY_FIXTURES_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RESOLVER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RESOLVER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RESOLVER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RESOLVER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RESOLVER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RESOLVER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RESOLVER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "RESOLVER_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.ResultTTL, "RESOLVER_REDIS_RESULT_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RESOLVER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RESOLVER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RESOLVER_S3_REGION")
	setStr(&cfg.S3.Bucket, "RESOLVER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "RESOLVER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "RESOLVER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RESOLVER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RESOLVER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RESOLVER_S3_FORCE_PATH_STYLE")

	// ── Settlement ──
	setInt32(&cfg.Settlement.CurrencyScale, "RESOLVER_SETTLEMENT_CURRENCY_SCALE")
	setFloat64(&cfg.Settlement.BasePoints, "RESOLVER_SETTLEMENT_BASE_POINTS")
	setFloat64(&cfg.Settlement.ProbabilityEpsilon, "RESOLVER_SETTLEMENT_PROBABILITY_EPSILON")
	setInt64(&cfg.Settlement.MaxPointsPerBet, "RESOLVER_SETTLEMENT_MAX_POINTS_PER_BET")
	setFloat64(&cfg.Settlement.TasteMatchIncrement, "RESOLVER_SETTLEMENT_TASTE_MATCH_INCREMENT")
	setInt(&cfg.Settlement.MaxCorrectUsers, "RESOLVER_SETTLEMENT_MAX_CORRECT_USERS")
	setBool(&cfg.Settlement.AllowEmptyMarkets, "RESOLVER_SETTLEMENT_ALLOW_EMPTY_MARKETS")
	setDuration(&cfg.Settlement.LockTTL, "RESOLVER_SETTLEMENT_LOCK_TTL")
	setDuration(&cfg.Settlement.LockWait, "RESOLVER_SETTLEMENT_LOCK_WAIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RESOLVER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RESOLVER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RESOLVER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RESOLVER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "RESOLVER_SERVER_RATE_LIMIT")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "RESOLVER_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "RESOLVER_METRICS_NAMESPACE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RESOLVER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RESOLVER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RESOLVER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RESOLVER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RESOLVER_MODE")
	setStr(&cfg.LogLevel, "RESOLVER_LOG_LEVEL")
	setStr(&cfg.StoreDriver, "RESOLVER_STORE_DRIVER")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
