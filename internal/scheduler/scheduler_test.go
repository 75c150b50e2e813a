package scheduler

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func baseConfig() Config {
	return Config{
		MaxConcurrentTrades:   2,
		MinProfitThresholdPct: 0.5,
		MaxDailyTrades:        100,
	}
}

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = c.now
	s.Start()
	return s, c
}

func opp(id string, pct float64) domain.Opportunity {
	return domain.Opportunity{
		ID:          id,
		SourceVenue: "alpha",
		TargetVenue: "beta",
		Instrument:  "SOL/USDC",
		Direction:   domain.DirectionBuy,
		ProfitPct:   pct,
	}
}

func TestAdmit_RejectsWhenStopped(t *testing.T) {
	s, _ := newScheduler(t, baseConfig())
	s.Stop()
	s.Stop()

	_, err := s.Admit(opp("a", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)

	s.Start()
	_, err = s.Admit(opp("a", 1))
	assert.NoError(t, err)
}

func TestAdmit_ConcurrencyCap(t *testing.T) {
	s, _ := newScheduler(t, baseConfig())

	r1, err := s.Admit(opp("a", 1))
	require.NoError(t, err)
	_, err = s.Admit(opp("b", 1))
	require.NoError(t, err)

	_, err = s.Admit(opp("c", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
	assert.Equal(t, 2, s.Stats().ActiveExecutions)

	require.NoError(t, r1())
	_, err = s.Admit(opp("c", 1))
	assert.NoError(t, err)
}

func TestAdmit_Cooldown(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentTrades = 10
	cfg.Cooldown = 2 * time.Second
	s, c := newScheduler(t, cfg)

	_, err := s.Admit(opp("a", 1))
	require.NoError(t, err)

	c.advance(1999 * time.Millisecond)
	_, err = s.Admit(opp("b", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)

	c.advance(time.Millisecond)
	_, err = s.Admit(opp("b", 1))
	assert.NoError(t, err)
}

func TestAdmit_MinTradeInterval(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentTrades = 10
	cfg.MinTradeInterval = time.Minute
	s, c := newScheduler(t, cfg)

	_, err := s.Admit(opp("a", 1))
	require.NoError(t, err)
	c.advance(30 * time.Second)
	_, err = s.Admit(opp("b", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
	c.advance(30 * time.Second)
	_, err = s.Admit(opp("b", 1))
	assert.NoError(t, err)
}

func TestAdmit_ProfitThresholdRechecked(t *testing.T) {
	s, _ := newScheduler(t, baseConfig())

	_, err := s.Admit(opp("low", 0.49))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
	_, err = s.Admit(opp("edge", 0.5))
	assert.NoError(t, err)
}

func TestAdmit_DailyCapResetsAtUTCMidnight(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentTrades = 10
	cfg.MaxDailyTrades = 3
	s, c := newScheduler(t, cfg)
	c.t = time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.Admit(opp("x", 1))
		require.NoError(t, err)
	}
	_, err := s.Admit(opp("x", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
	assert.Equal(t, 3, s.Stats().DailyTrades)

	c.advance(59 * time.Second)
	_, err = s.Admit(opp("x", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected, "still the same UTC day")

	c.advance(time.Second)
	assert.Equal(t, 0, s.Stats().DailyTrades)
	_, err = s.Admit(opp("x", 1))
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Stats().DailyTrades)
}

func TestAdmit_DailyCapUsesUTCNotLocalTime(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentTrades = 10
	cfg.MaxDailyTrades = 1
	s, c := newScheduler(t, cfg)

	tokyo := time.FixedZone("JST", 9*3600)
	// 23:30 local is 14:30 UTC; local midnight is not a UTC day boundary.
	c.t = time.Date(2026, 3, 10, 23, 30, 0, 0, tokyo)
	_, err := s.Admit(opp("x", 1))
	require.NoError(t, err)

	c.t = time.Date(2026, 3, 11, 0, 30, 0, 0, tokyo)
	_, err = s.Admit(opp("x", 1))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
}

func TestAdmit_Blacklist(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
	}{
		{"instrument", func(c *Config) { c.BlacklistInstruments = []string{"SOL/USDC"} }},
		{"source venue", func(c *Config) { c.BlacklistVenues = []string{"alpha"} }},
		{"target venue", func(c *Config) { c.BlacklistVenues = []string{"beta"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.cfg(&cfg)
			// A blacklisted opportunity is rejected even when it is prioritized.
			cfg.PriorityInstruments = []string{"SOL/USDC"}
			s, _ := newScheduler(t, cfg)

			_, err := s.Admit(opp("a", 50))
			assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
			assert.Equal(t, 0, s.Stats().DailyTrades)
		})
	}
}

func TestAdmit_PriorityListsRaiseThresholdForOthers(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentTrades = 10
	cfg.PriorityVenues = []string{"gamma"}
	s, _ := newScheduler(t, cfg)

	_, err := s.Admit(opp("plain", 0.7))
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected, "non-priority needs 0.75%")
	_, err = s.Admit(opp("plain", 0.75))
	assert.NoError(t, err)

	prio := opp("prio", 0.5)
	prio.TargetVenue = "gamma"
	_, err = s.Admit(prio)
	assert.NoError(t, err)
}

func TestRelease_DecrementsOnce(t *testing.T) {
	s, _ := newScheduler(t, baseConfig())

	release, err := s.Admit(opp("a", 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, release())
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, s.Stats().ActiveExecutions)
}

func TestRelease_BelowZeroIsViolation(t *testing.T) {
	s, _ := newScheduler(t, baseConfig())
	release, err := s.Admit(opp("a", 1))
	require.NoError(t, err)

	s.mu.Lock()
	s.active = 0
	s.mu.Unlock()

	assert.ErrorIs(t, release(), domain.ErrConcurrencyViolation)
}

func TestAdmit_ConcurrentAdmissionsRespectCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentTrades = 3
	s, _ := newScheduler(t, cfg)

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Admit(opp("a", 1)); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 3, s.Stats().ActiveExecutions)
}

func TestStop_KeepsInFlightSlots(t *testing.T) {
	s, _ := newScheduler(t, baseConfig())
	release, err := s.Admit(opp("a", 1))
	require.NoError(t, err)

	s.Stop()
	st := s.Stats()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.ActiveExecutions)

	require.NoError(t, release())
	assert.Equal(t, 0, s.Stats().ActiveExecutions)
}
