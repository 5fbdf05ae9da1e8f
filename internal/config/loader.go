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
// built-in defaults, applies NFTINDEX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment overrides only.
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

// applyEnvOverrides reads well-known NFTINDEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NFTINDEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NFTINDEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NFTINDEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NFTINDEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NFTINDEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NFTINDEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NFTINDEX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NFTINDEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NFTINDEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NFTINDEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NFTINDEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTINDEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTINDEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTINDEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTINDEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTINDEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "NFTINDEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "NFTINDEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NFTINDEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "NFTINDEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NFTINDEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NFTINDEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NFTINDEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NFTINDEX_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "NFTINDEX_S3_KEY_PREFIX")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "NFTINDEX_CHAIN_RPC_URL")
	setFloat64(&cfg.Chain.RequestsPerSecond, "NFTINDEX_CHAIN_REQUESTS_PER_SECOND")
	setDuration(&cfg.Chain.CallTimeout, "NFTINDEX_CHAIN_CALL_TIMEOUT")
	setBool(&cfg.Chain.WatchEvents, "NFTINDEX_CHAIN_WATCH_EVENTS")
	setDuration(&cfg.Chain.PollInterval, "NFTINDEX_CHAIN_POLL_INTERVAL")
	setUint64(&cfg.Chain.Confirmations, "NFTINDEX_CHAIN_CONFIRMATIONS")
	setUint64(&cfg.Chain.StartBlock, "NFTINDEX_CHAIN_START_BLOCK")
	setUint64(&cfg.Chain.BatchBlocks, "NFTINDEX_CHAIN_BATCH_BLOCKS")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "NFTINDEX_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "NFTINDEX_FEED_URL")
	setStringSlice(&cfg.Feed.Sources, "NFTINDEX_FEED_SOURCES")
	setBool(&cfg.Feed.ArchiveRaw, "NFTINDEX_FEED_ARCHIVE_RAW")

	// ── Relay ──
	setBool(&cfg.Relay.Enabled, "NFTINDEX_RELAY_ENABLED")
	setStr(&cfg.Relay.BaseURL, "NFTINDEX_RELAY_BASE_URL")
	setStr(&cfg.Relay.APIKey, "NFTINDEX_RELAY_API_KEY")
	setFloat64(&cfg.Relay.RequestsPerSecond, "NFTINDEX_RELAY_REQUESTS_PER_SECOND")
	setDuration(&cfg.Relay.Timeout, "NFTINDEX_RELAY_TIMEOUT")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "NFTINDEX_ORACLE_BASE_URL")
	setDuration(&cfg.Oracle.Timeout, "NFTINDEX_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.CacheTTL, "NFTINDEX_ORACLE_CACHE_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NFTINDEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NFTINDEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NFTINDEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NFTINDEX_SERVER_API_KEY")

	// ── Jobs / Engine ──
	setInt(&cfg.Jobs.Workers, "NFTINDEX_JOBS_WORKERS")
	setInt(&cfg.Jobs.MaxAttempts, "NFTINDEX_JOBS_MAX_ATTEMPTS")
	setInt(&cfg.Engine.Concurrency, "NFTINDEX_ENGINE_CONCURRENCY")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "NFTINDEX_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
