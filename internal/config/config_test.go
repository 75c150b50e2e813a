package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "trade"
log_level = "debug"

[market]
polling_interval = "2s"
max_quote_age = "10s"
instruments = ["ETH/USDC"]

[[venues]]
name = "alpha"
kind = "static"
[venues.quotes."ETH/USDC"]
bid = 99.5
ask = 100

[[venues]]
name = "okx-spot"
kind = "okx"
enabled = false
symbols = { "ETH/USDC" = "ETH-USDC" }

[detector]
min_profit_threshold_pct = 0.3
trade_size_usd = 500
max_slippage_pct = 1

[scheduler]
max_concurrent_trades = 2
cooldown = "1s"

[signer]
kind = "paper"

[wallet]
private_key = "0xabc"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{{Name: "alpha", Kind: "static"}, {Name: "beta", Kind: "static"}}
	return cfg
}

func TestLoad_FileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Market.PollingInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Market.MaxQuoteAge.Duration)
	assert.Equal(t, 3*time.Second, cfg.Market.FetchTimeout.Duration, "default kept")
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentTrades)
	assert.Equal(t, 100, cfg.Scheduler.MaxDailyTrades, "default kept")

	require.Len(t, cfg.Venues, 2)
	assert.Equal(t, QuoteConfig{Bid: 99.5, Ask: 100}, cfg.Venues[0].Quotes["ETH/USDC"])
	assert.True(t, cfg.Venues[0].IsEnabled())
	assert.False(t, cfg.Venues[1].IsEnabled())
	assert.Equal(t, "ETH-USDC", cfg.Venues[1].Symbols["ETH/USDC"])
	assert.Len(t, cfg.EnabledVenues(), 1)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VENUEARB_MODE", "monitor")
	t.Setenv("VENUEARB_MARKET_POLLING_INTERVAL", "750ms")
	t.Setenv("VENUEARB_SCHEDULER_BLACKLIST_VENUES", " beta , ,gamma")
	t.Setenv("VENUEARB_VENUE_OKX_SPOT_ENABLED", "true")
	t.Setenv("VENUEARB_VENUE_OKX_SPOT_API_KEY", "from-env")
	t.Setenv("VENUEARB_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Market.PollingInterval.Duration)
	assert.Equal(t, []string{"beta", "gamma"}, cfg.Scheduler.BlacklistVenues)
	assert.True(t, cfg.Venues[1].IsEnabled())
	assert.Equal(t, "from-env", cfg.Venues[1].APIKey)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable override ignored")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[market]\npolling_interval = \"soon\"\n"))
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "full" }, `unknown mode "full"`},
		{"no venues", func(c *Config) { c.Venues = nil }, "at least one enabled venue"},
		{"all disabled", func(c *Config) {
			off := false
			for i := range c.Venues {
				c.Venues[i].Enabled = &off
			}
		}, "at least one enabled venue"},
		{"duplicate venue", func(c *Config) { c.Venues[1].Name = "alpha" }, `duplicate name "alpha"`},
		{"unknown kind", func(c *Config) { c.Venues[0].Kind = "ftp" }, `unknown kind "ftp"`},
		{"http without url", func(c *Config) { c.Venues[0].Kind = "http" }, "base_url is required"},
		{"slippage above max", func(c *Config) {
			c.Detector.MaxSlippagePct = 0.2
			c.Executor.SlippageTolerance = 0.005
		}, "exceeds detector.max_slippage_pct"},
		{"relay without wallet", func(c *Config) {
			c.Mode = "trade"
			c.Signer.Kind = SignerRelay
			c.Signer.RelayURL = "https://relay.example.com"
		}, "required for a live signer"},
		{"relay without url", func(c *Config) {
			c.Mode = "trade"
			c.Signer.Kind = SignerRelay
			c.Wallet.PrivateKey = "0xabc"
		}, "relay_url is required"},
		{"paper trade needs no wallet", func(c *Config) { c.Mode = "trade" }, ""},
		{"monitor ignores signer", func(c *Config) { c.Signer.Kind = "bogus" }, ""},
		{"encrypted key without password", func(c *Config) { c.Wallet.EncryptedKeyPath = "/k.json" }, "key_password is required"},
		{"postgres port", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.Port = 0
		}, "postgres: port"},
		{"zero concurrency", func(c *Config) { c.Scheduler.MaxConcurrentTrades = 0 }, "max_concurrent_trades"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.LogLevel = "loud"
	cfg.Scheduler.MaxDailyTrades = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "max_daily_trades")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Signer.RelayAPISecret = "relay-secret"
	cfg.Postgres.Password = "pg"
	cfg.Venues[0].APIKey = "venue-key"
	cfg.Venues[0].Symbols = map[string]string{"ETH/USDC": "ETHUSDC"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Signer.RelayAPISecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Venues[0].APIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Venues[0].Symbols["ETH/USDC"] = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "0xsecret", cfg.Wallet.PrivateKey)
	assert.Equal(t, "venue-key", cfg.Venues[0].APIKey)
	assert.Equal(t, "ETHUSDC", cfg.Venues[0].Symbols["ETH/USDC"])
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
