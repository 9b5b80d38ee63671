// Package config defines the mirror's configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then overridden by ARBMIRROR_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Edge       EdgeConfig       `toml:"edge"`
	Refresh    RefreshConfig    `toml:"refresh"`
	Stream     StreamConfig     `toml:"stream"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// PolymarketConfig holds the public endpoints the mirror reads from.
type PolymarketConfig struct {
	GammaURL       string   `toml:"gamma_url"`
	ClobHost       string   `toml:"clob_host"`
	WsURL          string   `toml:"ws_url"`
	GammaLimit     int      `toml:"gamma_limit"`
	RequestTimeout duration `toml:"request_timeout"`
	// EnrichTokens resolves missing outcome token ids through the CLOB listing.
	EnrichTokens bool `toml:"enrich_tokens"`
}

// EdgeConfig holds the opportunity thresholds.
type EdgeConfig struct {
	MinEdge      float64 `toml:"min_edge"`
	MinLiquidity float64 `toml:"min_liquidity"`
}

// RefreshConfig controls the market listing poll.
type RefreshConfig struct {
	Interval duration `toml:"interval"`
	// LeaderLock makes replicas take turns through a Redis lock.
	LeaderLock bool `toml:"leader_lock"`
}

// StreamConfig controls the market websocket feed.
type StreamConfig struct {
	Enabled            bool     `toml:"enabled"`
	PingInterval       duration `toml:"ping_interval"`
	SubscribeChunkSize int      `toml:"subscribe_chunk_size"`
	ReconnectDelay     duration `toml:"reconnect_delay"`
	QueueSize          int      `toml:"queue_size"`
	VerifyTLS          bool     `toml:"verify_tls"`
}

// RedisConfig holds Redis connection and snapshot storage parameters.
type RedisConfig struct {
	// URL overrides Addr, Password and DB when set.
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	HistoryCap int    `toml:"history_cap"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds the update archive connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds snapshot export storage parameters.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	ExportInterval duration `toml:"export_interval"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client; 0 disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials and filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinEdge           float64  `toml:"min_edge"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Duration builds a config duration; used by callers assembling a Config in code.
func Duration(d time.Duration) duration { return duration{d} }

// Defaults returns the configuration used before any file or environment
// override applies.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Polymarket: PolymarketConfig{
			GammaURL:       "https://gamma-api.polymarket.com/markets",
			ClobHost:       "https://clob.polymarket.com",
			WsURL:          "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			GammaLimit:     200,
			RequestTimeout: duration{10 * time.Second},
			EnrichTokens:   true,
		},
		Edge: EdgeConfig{
			MinEdge:      0.01,
			MinLiquidity: 100,
		},
		Refresh: RefreshConfig{
			Interval: duration{30 * time.Second},
		},
		Stream: StreamConfig{
			Enabled:            true,
			PingInterval:       duration{10 * time.Second},
			SubscribeChunkSize: 100,
			ReconnectDelay:     duration{5 * time.Second},
			QueueSize:          10000,
			VerifyTLS:          true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			HistoryCap: 2880,
			KeyPrefix:  "ops",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "snapshots",
			ExportInterval: duration{15 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"*"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events:  []string{"opportunity_upsert"},
			MinEdge: 0.03,
		},
	}
}

// Mode values.
const (
	ModeFull   = "full"
	ModeIngest = "ingest"
	ModeServer = "server"
)

var validModes = map[string]bool{ModeFull: true, ModeIngest: true, ModeServer: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// RunsIngestion reports whether the mode polls and streams markets.
func (c *Config) RunsIngestion() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeFull || m == ModeIngest
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return c.Server.Enabled && (m == ModeFull || m == ModeServer)
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: full, ingest, server)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.RunsIngestion() {
		if err := checkURL(c.Polymarket.GammaURL, "http", "https"); err != nil {
			add("polymarket: gamma_url: %v", err)
		}
		if c.Polymarket.EnrichTokens {
			if err := checkURL(c.Polymarket.ClobHost, "http", "https"); err != nil {
				add("polymarket: clob_host: %v", err)
			}
		}
		if c.Stream.Enabled {
			if err := checkURL(c.Polymarket.WsURL, "ws", "wss"); err != nil {
				add("polymarket: ws_url: %v", err)
			}
		}
		if c.Polymarket.GammaLimit < 1 {
			add("polymarket: gamma_limit must be at least 1")
		}
		if c.Refresh.Interval.Duration < time.Second {
			add("refresh: interval must be at least 1s")
		}
	}
	if c.Polymarket.RequestTimeout.Duration <= 0 {
		add("polymarket: request_timeout must be positive")
	}

	if c.Edge.MinEdge < 0 || c.Edge.MinEdge >= 1 {
		add("edge: min_edge must be in [0, 1)")
	}
	if c.Edge.MinLiquidity < 0 {
		add("edge: min_liquidity must not be negative")
	}

	if c.Stream.Enabled {
		if c.Stream.PingInterval.Duration < time.Second {
			add("stream: ping_interval must be at least 1s")
		}
		if c.Stream.ReconnectDelay.Duration < time.Second {
			add("stream: reconnect_delay must be at least 1s")
		}
		if c.Stream.SubscribeChunkSize < 1 {
			add("stream: subscribe_chunk_size must be at least 1")
		}
		if c.Stream.QueueSize < 1 {
			add("stream: queue_size must be at least 1")
		}
	}

	if c.Redis.URL == "" && c.Redis.Addr == "" {
		add("redis: url or addr must be set")
	}
	if c.Redis.URL != "" {
		if err := checkURL(c.Redis.URL, "redis", "rediss", "unix"); err != nil {
			add("redis: url: %v", err)
		}
	}
	if c.Redis.HistoryCap < 0 {
		add("redis: history_cap must not be negative")
	}
	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		add("redis: key_prefix must not be empty")
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		add("postgres: dsn or host is required when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket is required when enabled")
		}
		if c.S3.Region == "" {
			add("s3: region is required when enabled")
		}
		if c.S3.ExportInterval.Duration < time.Minute {
			add("s3: export_interval must be at least 1m")
		}
	}

	if c.RunsServer() {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			add("server: port %d out of range", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be positive when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.DiscordWebhookURL != "" {
		if err := checkURL(c.Notify.DiscordWebhookURL, "https", "http"); err != nil {
			add("notify: discord_webhook_url: %v", err)
		}
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", u.Scheme, strings.Join(schemes, ", "))
}
