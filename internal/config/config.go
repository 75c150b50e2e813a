// Package config defines the top-level configuration for venuearb and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VENUEARB_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Market    MarketConfig    `toml:"market"`
	Venues    []VenueConfig   `toml:"venues"`
	Detector  DetectorConfig  `toml:"detector"`
	Registry  RegistryConfig  `toml:"registry"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Executor  ExecutorConfig  `toml:"executor"`
	Signer    SignerConfig    `toml:"signer"`
	Wallet    WalletConfig    `toml:"wallet"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
}

// MarketConfig controls the quote aggregator.
type MarketConfig struct {
	PollingInterval duration `toml:"polling_interval"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	MaxQuoteAge     duration `toml:"max_quote_age"`
	// Instruments restricts polling when non-empty.
	Instruments []string `toml:"instruments"`
}

// QuoteConfig is a fixed quote for static venues.
type QuoteConfig struct {
	Bid  float64 `toml:"bid"`
	Ask  float64 `toml:"ask"`
	Last float64 `toml:"last"`
}

// VenueConfig describes one [[venues]] entry.
type VenueConfig struct {
	Name              string                 `toml:"name"`
	Kind              string                 `toml:"kind"`
	Enabled           *bool                  `toml:"enabled"`
	BaseURL           string                 `toml:"base_url"`
	WSURL             string                 `toml:"ws_url"`
	APIKey            string                 `toml:"api_key"`
	RSAPrivateKeyPath string                 `toml:"rsa_private_key_path"`
	Timeout           duration               `toml:"timeout"`
	Instruments       []string               `toml:"instruments"`
	Symbols           map[string]string      `toml:"symbols"`
	Quotes            map[string]QuoteConfig `toml:"quotes"`
}

// IsEnabled reports whether the venue is enabled. Venues are enabled unless
// explicitly switched off.
func (v VenueConfig) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

// DetectorConfig controls opportunity detection.
type DetectorConfig struct {
	MinProfitThresholdPct float64 `toml:"min_profit_threshold_pct"`
	TradeSizeUSD          float64 `toml:"trade_size_usd"`
	GasCostUSD            float64 `toml:"gas_cost_usd"`
	MaxSlippagePct        float64 `toml:"max_slippage_pct"`
}

// RegistryConfig controls the opportunity registry and its expiry loop.
type RegistryConfig struct {
	Retention      duration `toml:"retention"`
	DedupWindow    duration `toml:"dedup_window"`
	ExpireInterval duration `toml:"expire_interval"`
}

// SchedulerConfig controls execution admission.
type SchedulerConfig struct {
	MaxConcurrentTrades  int      `toml:"max_concurrent_trades"`
	Cooldown             duration `toml:"cooldown"`
	MaxDailyTrades       int      `toml:"max_daily_trades"`
	MinTradeInterval     duration `toml:"min_trade_interval"`
	BlacklistInstruments []string `toml:"blacklist_instruments"`
	BlacklistVenues      []string `toml:"blacklist_venues"`
	PriorityInstruments  []string `toml:"priority_instruments"`
	PriorityVenues       []string `toml:"priority_venues"`
}

// ExecutorConfig controls leg submission.
type ExecutorConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	RetryBackoff      duration `toml:"retry_backoff"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	ConfirmationLevel string   `toml:"confirmation_level"`
	SlippageTolerance float64  `toml:"slippage_tolerance"`
	SubmitRateLimit   int      `toml:"submit_rate_limit"`
	SubmitRateWindow  duration `toml:"submit_rate_window"`
	LockTTL           duration `toml:"lock_ttl"`
	HistorySize       int      `toml:"history_size"`
}

// Signer kinds.
const (
	SignerPaper = "paper"
	SignerRelay = "relay"
)

// SignerConfig selects and configures the trade signer.
type SignerConfig struct {
	Kind            string   `toml:"kind"`
	RelayURL        string   `toml:"relay_url"`
	RelayAPIKey     string   `toml:"relay_api_key"`
	RelayAPISecret  string   `toml:"relay_api_secret"`
	RelayTimeout    duration `toml:"relay_timeout"`
	PaperBalanceUSD float64  `toml:"paper_balance_usd"`
	PaperFeeBps     float64  `toml:"paper_fee_bps"`
	PaperLatency    duration `toml:"paper_latency"`
}

// WalletConfig holds the signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int64  `toml:"chain_id"`
}

// HasKey reports whether any key source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchivePrefix  string `toml:"archive_prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "monitor",
		LogLevel: "info",
		Market: MarketConfig{
			PollingInterval: duration{5 * time.Second},
			FetchTimeout:    duration{3 * time.Second},
			MaxQuoteAge:     duration{30 * time.Second},
		},
		Detector: DetectorConfig{
			MinProfitThresholdPct: 0.5,
			TradeSizeUSD:          1000,
			GasCostUSD:            0,
			MaxSlippagePct:        1,
		},
		Registry: RegistryConfig{
			Retention:      duration{5 * time.Minute},
			DedupWindow:    duration{15 * time.Second},
			ExpireInterval: duration{30 * time.Second},
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentTrades: 1,
			Cooldown:            duration{5 * time.Second},
			MaxDailyTrades:      100,
			MinTradeInterval:    duration{time.Second},
		},
		Executor: ExecutorConfig{
			MaxRetries:        3,
			RetryBackoff:      duration{time.Second},
			ConfirmTimeout:    duration{30 * time.Second},
			ConfirmationLevel: "confirmed",
			SlippageTolerance: 0.005,
			SubmitRateWindow:  duration{time.Second},
			LockTTL:           duration{5 * time.Minute},
			HistorySize:       500,
		},
		Signer: SignerConfig{
			Kind:            SignerPaper,
			RelayTimeout:    duration{15 * time.Second},
			PaperBalanceUSD: 10_000,
			PaperFeeBps:     10,
			PaperLatency:    duration{200 * time.Millisecond},
		},
		Wallet: WalletConfig{ChainID: 1},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "venuearb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "venuearb",
			ForcePathStyle: true,
			ArchivePrefix:  "archive/opportunities",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade.completed", "trade.failed", "bot.started", "bot.stopped"},
		},
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"static": true,
	"http":   true,
	"kalshi": true,
	"okx":    true,
}

// EnabledVenues returns the venues that are switched on.
func (c *Config) EnabledVenues() []VenueConfig {
	out := make([]VenueConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.IsEnabled() {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Market.PollingInterval.Duration <= 0 {
		add("market: polling_interval must be > 0")
	}
	if c.Market.MaxQuoteAge.Duration <= 0 {
		add("market: max_quote_age must be > 0")
	}

	// Venues
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.Name == "" {
			add("venues[%d]: name must not be empty", i)
		} else if seen[v.Name] {
			add("venues[%d]: duplicate name %q", i, v.Name)
		}
		seen[v.Name] = true
		if !validVenueKinds[v.Kind] {
			add("venues[%d]: unknown kind %q (valid: static, http, kalshi, okx)", i, v.Kind)
		}
		if v.Kind == "http" && v.BaseURL == "" && v.IsEnabled() {
			add("venues[%d]: base_url is required for kind http", i)
		}
	}
	if len(c.EnabledVenues()) == 0 {
		add("venues: at least one enabled venue is required")
	}

	// Detector
	if c.Detector.MinProfitThresholdPct < 0 {
		add("detector: min_profit_threshold_pct must be >= 0")
	}
	if c.Detector.TradeSizeUSD <= 0 {
		add("detector: trade_size_usd must be > 0")
	}
	if c.Detector.GasCostUSD < 0 {
		add("detector: gas_cost_usd must be >= 0")
	}
	if c.Detector.MaxSlippagePct < 0 {
		add("detector: max_slippage_pct must be >= 0")
	}

	if c.Registry.Retention.Duration <= 0 {
		add("registry: retention must be > 0")
	}
	if c.Registry.ExpireInterval.Duration <= 0 {
		add("registry: expire_interval must be > 0")
	}

	// Scheduler
	if c.Scheduler.MaxConcurrentTrades < 1 {
		add("scheduler: max_concurrent_trades must be >= 1")
	}
	if c.Scheduler.MaxDailyTrades < 1 {
		add("scheduler: max_daily_trades must be >= 1")
	}

	// Executor
	if c.Executor.MaxRetries < 1 {
		add("executor: max_retries must be >= 1")
	}
	if c.Executor.SlippageTolerance < 0 || c.Executor.SlippageTolerance >= 1 {
		add("executor: slippage_tolerance must be in [0, 1)")
	}
	if c.Executor.SlippageTolerance > c.Detector.MaxSlippagePct/100 {
		add("executor: slippage_tolerance %.4f exceeds detector.max_slippage_pct %.2f%%",
			c.Executor.SlippageTolerance, c.Detector.MaxSlippagePct)
	}

	// Signer and wallet only matter when trading.
	if strings.EqualFold(c.Mode, "trade") {
		switch c.Signer.Kind {
		case SignerPaper:
		case SignerRelay:
			if c.Signer.RelayURL == "" {
				add("signer: relay_url is required for kind relay")
			}
			if !c.Wallet.HasKey() {
				add("wallet: private_key or encrypted_key_path is required for a live signer")
			}
		default:
			add("signer: unknown kind %q (valid: paper, relay)", c.Signer.Kind)
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
