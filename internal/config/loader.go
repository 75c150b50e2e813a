package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VENUEARB_"

// Load reads the TOML file at path on top of Defaults, loads a .env file
// when present, and applies VENUEARB_* environment overrides. An empty path
// skips the file. The result has NOT been validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose VENUEARB_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	// ── Market ──
	setDuration(&cfg.Market.PollingInterval, "MARKET_POLLING_INTERVAL")
	setDuration(&cfg.Market.FetchTimeout, "MARKET_FETCH_TIMEOUT")
	setDuration(&cfg.Market.MaxQuoteAge, "MARKET_MAX_QUOTE_AGE")
	setStringSlice(&cfg.Market.Instruments, "MARKET_INSTRUMENTS")

	// ── Venues: VENUEARB_VENUE_<NAME>_API_KEY and _ENABLED ──
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		name := envName(v.Name)
		setStr(&v.APIKey, "VENUE_"+name+"_API_KEY")
		setStr(&v.RSAPrivateKeyPath, "VENUE_"+name+"_RSA_PRIVATE_KEY_PATH")
		setStr(&v.BaseURL, "VENUE_"+name+"_BASE_URL")
		if raw := os.Getenv(EnvPrefix + "VENUE_" + name + "_ENABLED"); raw != "" {
			if b, err := strconv.ParseBool(raw); err == nil {
				v.Enabled = &b
			}
		}
	}

	// ── Detector ──
	setFloat64(&cfg.Detector.MinProfitThresholdPct, "DETECTOR_MIN_PROFIT_THRESHOLD_PCT")
	setFloat64(&cfg.Detector.TradeSizeUSD, "DETECTOR_TRADE_SIZE_USD")
	setFloat64(&cfg.Detector.GasCostUSD, "DETECTOR_GAS_COST_USD")
	setFloat64(&cfg.Detector.MaxSlippagePct, "DETECTOR_MAX_SLIPPAGE_PCT")

	// ── Registry ──
	setDuration(&cfg.Registry.Retention, "REGISTRY_RETENTION")
	setDuration(&cfg.Registry.DedupWindow, "REGISTRY_DEDUP_WINDOW")
	setDuration(&cfg.Registry.ExpireInterval, "REGISTRY_EXPIRE_INTERVAL")

	// ── Scheduler ──
	setInt(&cfg.Scheduler.MaxConcurrentTrades, "SCHEDULER_MAX_CONCURRENT_TRADES")
	setDuration(&cfg.Scheduler.Cooldown, "SCHEDULER_COOLDOWN")
	setInt(&cfg.Scheduler.MaxDailyTrades, "SCHEDULER_MAX_DAILY_TRADES")
	setDuration(&cfg.Scheduler.MinTradeInterval, "SCHEDULER_MIN_TRADE_INTERVAL")
	setStringSlice(&cfg.Scheduler.BlacklistInstruments, "SCHEDULER_BLACKLIST_INSTRUMENTS")
	setStringSlice(&cfg.Scheduler.BlacklistVenues, "SCHEDULER_BLACKLIST_VENUES")

	// ── Executor ──
	setInt(&cfg.Executor.MaxRetries, "EXECUTOR_MAX_RETRIES")
	setDuration(&cfg.Executor.ConfirmTimeout, "EXECUTOR_CONFIRM_TIMEOUT")
	setStr(&cfg.Executor.ConfirmationLevel, "EXECUTOR_CONFIRMATION_LEVEL")
	setFloat64(&cfg.Executor.SlippageTolerance, "EXECUTOR_SLIPPAGE_TOLERANCE")
	setInt(&cfg.Executor.SubmitRateLimit, "EXECUTOR_SUBMIT_RATE_LIMIT")

	// ── Signer ──
	setStr(&cfg.Signer.Kind, "SIGNER_KIND")
	setStr(&cfg.Signer.RelayURL, "SIGNER_RELAY_URL")
	setStr(&cfg.Signer.RelayAPIKey, "SIGNER_RELAY_API_KEY")
	setStr(&cfg.Signer.RelayAPISecret, "SIGNER_RELAY_API_SECRET")
	setFloat64(&cfg.Signer.PaperBalanceUSD, "SIGNER_PAPER_BALANCE_USD")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")
	setInt64(&cfg.Wallet.ChainID, "WALLET_CHAIN_ID")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setStr(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
}

// envName turns a venue name into its environment form: "okx-spot" becomes
// "OKX_SPOT".
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// variable is present and parses.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
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
