package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Market.PollingInterval.Duration = 10 * time.Millisecond
	cfg.Market.Instruments = []string{"ETH/USDC"}
	cfg.Venues = []config.VenueConfig{
		{Name: "alpha", Kind: "static", Quotes: map[string]config.QuoteConfig{"ETH/USDC": {Bid: 99, Ask: 100}}},
		{Name: "beta", Kind: "static", Quotes: map[string]config.QuoteConfig{"ETH/USDC": {Bid: 103, Ask: 104}}},
	}
	return &cfg
}

func TestVenueConfigs(t *testing.T) {
	cfg := staticConfig()
	off := false
	keyPath := filepath.Join(t.TempDir(), "kalshi.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("pem-bytes"), 0o600))
	cfg.Venues = append(cfg.Venues,
		config.VenueConfig{Name: "gamma", Kind: "static", Enabled: &off},
		config.VenueConfig{Name: "kalshi", Kind: "kalshi", RSAPrivateKeyPath: keyPath},
	)

	out, err := VenueConfigs(cfg)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "alpha", out[0].Name)
	assert.Equal(t, 99.0, out[0].Quotes["ETH/USDC"].Bid)
	assert.Equal(t, cfg.Market.FetchTimeout.Duration, out[0].Timeout)
	assert.Equal(t, []byte("pem-bytes"), out[2].RSAPrivateKeyPEM)
}

func TestVenueConfigs_MissingKeyFile(t *testing.T) {
	cfg := staticConfig()
	cfg.Venues[0].RSAPrivateKeyPath = filepath.Join(t.TempDir(), "nope.pem")

	_, err := VenueConfigs(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := staticConfig()
	cfg.Mode = "replay"

	a := New(cfg, testLogger())
	defer a.Close()

	err := a.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestWire_NoBackingServices(t *testing.T) {
	deps, cleanup, err := Wire(t.Context(), staticConfig(), testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Opportunities)
	assert.Nil(t, deps.Quotes)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.RateLimiter, "local limiter stands in for redis")
	assert.False(t, deps.Notifier.Enabled())
	assert.Empty(t, deps.Health)
}

func TestModes_StopCleanlyOnCancel(t *testing.T) {
	for _, mode := range []string{"monitor", "trade"} {
		t.Run(mode, func(t *testing.T) {
			cfg := staticConfig()
			cfg.Mode = mode
			a := New(cfg, testLogger())
			defer a.Close()

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan error, 1)
			go func() { done <- a.Run(ctx) }()

			time.Sleep(100 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("mode did not stop")
			}
		})
	}
}

func TestRun_NoLiveVenues(t *testing.T) {
	cfg := staticConfig()
	cfg.Market.Instruments = []string{"SOL/USDC"}

	a := New(cfg, testLogger())
	defer a.Close()

	err := a.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize venues")
}
