package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (when it exists) on top of the built-in
// defaults, loads .env.local and .env, and applies environment overrides.
// The returned Config has NOT been validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	// godotenv never overrides variables already set, so .env.local wins over .env.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from the environment. Legacy
// unprefixed names are read first so ARBMIRROR_* always wins.
func applyEnvOverrides(cfg *Config) {
	applyLegacyEnv(cfg)

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBMIRROR_MODE")
	setStr(&cfg.LogLevel, "ARBMIRROR_LOG_LEVEL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaURL, "ARBMIRROR_POLYMARKET_GAMMA_URL")
	setStr(&cfg.Polymarket.ClobHost, "ARBMIRROR_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.WsURL, "ARBMIRROR_POLYMARKET_WS_URL")
	setInt(&cfg.Polymarket.GammaLimit, "ARBMIRROR_POLYMARKET_GAMMA_LIMIT")
	setDuration(&cfg.Polymarket.RequestTimeout, "ARBMIRROR_POLYMARKET_REQUEST_TIMEOUT")
	setBool(&cfg.Polymarket.EnrichTokens, "ARBMIRROR_POLYMARKET_ENRICH_TOKENS")

	// ── Edge ──
	setFloat64(&cfg.Edge.MinEdge, "ARBMIRROR_EDGE_MIN_EDGE")
	setFloat64(&cfg.Edge.MinLiquidity, "ARBMIRROR_EDGE_MIN_LIQUIDITY")

	// ── Refresh ──
	setDuration(&cfg.Refresh.Interval, "ARBMIRROR_REFRESH_INTERVAL")
	setBool(&cfg.Refresh.LeaderLock, "ARBMIRROR_REFRESH_LEADER_LOCK")

	// ── Stream ──
	setBool(&cfg.Stream.Enabled, "ARBMIRROR_STREAM_ENABLED")
	setDuration(&cfg.Stream.PingInterval, "ARBMIRROR_STREAM_PING_INTERVAL")
	setInt(&cfg.Stream.SubscribeChunkSize, "ARBMIRROR_STREAM_SUBSCRIBE_CHUNK_SIZE")
	setDuration(&cfg.Stream.ReconnectDelay, "ARBMIRROR_STREAM_RECONNECT_DELAY")
	setInt(&cfg.Stream.QueueSize, "ARBMIRROR_STREAM_QUEUE_SIZE")
	setBool(&cfg.Stream.VerifyTLS, "ARBMIRROR_STREAM_VERIFY_TLS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "ARBMIRROR_REDIS_URL")
	setStr(&cfg.Redis.Addr, "ARBMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBMIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBMIRROR_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.HistoryCap, "ARBMIRROR_REDIS_HISTORY_CAP")
	setStr(&cfg.Redis.KeyPrefix, "ARBMIRROR_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBMIRROR_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBMIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBMIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBMIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBMIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBMIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBMIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBMIRROR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBMIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBMIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBMIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBMIRROR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBMIRROR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBMIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBMIRROR_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ARBMIRROR_S3_PREFIX")
	setDuration(&cfg.S3.ExportInterval, "ARBMIRROR_S3_EXPORT_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBMIRROR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBMIRROR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBMIRROR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBMIRROR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBMIRROR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ARBMIRROR_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBMIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBMIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBMIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBMIRROR_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinEdge, "ARBMIRROR_NOTIFY_MIN_EDGE")
}

// applyLegacyEnv honours the unprefixed variable names earlier deployments
// of the dashboard backend used.
func applyLegacyEnv(cfg *Config) {
	setStr(&cfg.Polymarket.GammaURL, "PM_GAMMA_URL")
	setStr(&cfg.Polymarket.WsURL, "PM_CLOB_WS")
	setInt(&cfg.Polymarket.GammaLimit, "PM_GAMMA_LIMIT")
	setSeconds(&cfg.Polymarket.RequestTimeout, "REST_TIMEOUT_SEC")
	setFloat64(&cfg.Edge.MinEdge, "MIN_EDGE")
	setFloat64(&cfg.Edge.MinLiquidity, "MIN_LIQUIDITY")
	setSeconds(&cfg.Refresh.Interval, "REST_REFRESH_SEC")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setInt(&cfg.Redis.HistoryCap, "REDIS_HISTORY_CAP")
	setStringSlice(&cfg.Server.CORSOrigins, "CORS_ALLOW_ORIGINS")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setInt(&cfg.Server.Port, "PORT")
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

// setSeconds reads a plain number of (possibly fractional) seconds.
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			dst.Duration = time.Duration(f * float64(time.Second))
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
