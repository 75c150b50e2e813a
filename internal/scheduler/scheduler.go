// Package scheduler decides whether an opportunity may start executing.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// priorityPenalty multiplies the profit threshold for opportunities that
// match none of the configured priority lists.
var priorityPenalty = decimal.NewFromFloat(1.5)

// Config holds the admission gates.
type Config struct {
	MaxConcurrentTrades   int
	Cooldown              time.Duration
	MinProfitThresholdPct float64
	MaxDailyTrades        int
	MinTradeInterval      time.Duration

	BlacklistInstruments []string
	BlacklistVenues      []string
	PriorityInstruments  []string
	PriorityVenues       []string
}

// Release gives back an admission slot. Only the first call has an effect.
// It returns domain.ErrConcurrencyViolation when the active count would go
// negative.
type Release func() error

// Scheduler owns the execution counters. Every admission check and counter
// update happens under a single mutex.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	blacklistInstruments map[string]struct{}
	blacklistVenues      map[string]struct{}
	priorityInstruments  map[string]struct{}
	priorityVenues       map[string]struct{}

	mu            sync.Mutex
	running       bool
	active        int
	lastExecution time.Time
	lastTrade     time.Time
	dailyTrades   int
	day           time.Time
}

// New creates a stopped Scheduler.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:                  cfg,
		logger:               logger.With(slog.String("component", "scheduler")),
		now:                  time.Now,
		blacklistInstruments: toSet(cfg.BlacklistInstruments),
		blacklistVenues:      toSet(cfg.BlacklistVenues),
		priorityInstruments:  toSet(cfg.PriorityInstruments),
		priorityVenues:       toSet(cfg.PriorityVenues),
	}
}

// Start enables admission. Calling it again is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.logger.Info("scheduler started",
		slog.Int("max_concurrent_trades", s.cfg.MaxConcurrentTrades),
		slog.Int("max_daily_trades", s.cfg.MaxDailyTrades),
	)
}

// Stop disables admission. Executions already admitted keep their slots
// until released.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.logger.Info("scheduler stopped", slog.Int("active_executions", s.active))
}

// Admit runs every gate against opp. On success the counters are updated
// before the lock is released and the returned Release must be called when
// the execution finishes. Rejections wrap domain.ErrAdmissionRejected.
func (s *Scheduler) Admit(opp domain.Opportunity) (Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rollDay(now)

	if err := s.check(opp, now); err != nil {
		s.logger.Debug("admission rejected",
			slog.String("opportunity_id", opp.ID),
			slog.String("reason", err.Error()),
		)
		return nil, fmt.Errorf("scheduler: admit %s: %w", opp.ID, err)
	}

	s.active++
	s.dailyTrades++
	s.lastExecution = now
	s.lastTrade = now

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = s.release(opp.ID) })
		return err
	}, nil
}

func (s *Scheduler) check(opp domain.Opportunity, now time.Time) error {
	reject := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrAdmissionRejected}, args...)...)
	}

	switch {
	case !s.running:
		return reject("scheduler not running")
	case s.blacklisted(opp):
		return reject("blacklisted")
	case s.active >= s.cfg.MaxConcurrentTrades:
		return reject("concurrency limit %d reached", s.cfg.MaxConcurrentTrades)
	case !s.lastExecution.IsZero() && now.Sub(s.lastExecution) < s.cfg.Cooldown:
		return reject("cooldown %s not elapsed", s.cfg.Cooldown)
	case !s.lastTrade.IsZero() && now.Sub(s.lastTrade) < s.cfg.MinTradeInterval:
		return reject("min trade interval %s not elapsed", s.cfg.MinTradeInterval)
	case s.dailyTrades >= s.cfg.MaxDailyTrades:
		return reject("daily limit %d reached", s.cfg.MaxDailyTrades)
	}

	threshold := decimal.NewFromFloat(s.cfg.MinProfitThresholdPct)
	if s.hasPriorities() && !s.prioritized(opp) {
		threshold = threshold.Mul(priorityPenalty)
	}
	if decimal.NewFromFloat(opp.ProfitPct).LessThan(threshold) {
		return reject("profit %.4f%% below %s%%", opp.ProfitPct, threshold.String())
	}
	return nil
}

func (s *Scheduler) release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active <= 0 {
		s.logger.Error("release without active execution",
			slog.String("opportunity_id", id),
			slog.Int("active_executions", s.active),
		)
		return fmt.Errorf("scheduler: release %s: %w", id, domain.ErrConcurrencyViolation)
	}
	s.active--
	return nil
}

// rollDay resets the daily counter when now falls on a later UTC day.
func (s *Scheduler) rollDay(now time.Time) {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if today.After(s.day) {
		if !s.day.IsZero() && s.dailyTrades > 0 {
			s.logger.Info("daily trade counter reset", slog.Int("previous", s.dailyTrades))
		}
		s.day = today
		s.dailyTrades = 0
	}
}

func (s *Scheduler) blacklisted(opp domain.Opportunity) bool {
	return contains(s.blacklistInstruments, opp.Instrument) ||
		contains(s.blacklistVenues, opp.SourceVenue) ||
		contains(s.blacklistVenues, opp.TargetVenue)
}

func (s *Scheduler) hasPriorities() bool {
	return len(s.priorityInstruments) > 0 || len(s.priorityVenues) > 0
}

func (s *Scheduler) prioritized(opp domain.Opportunity) bool {
	return contains(s.priorityInstruments, opp.Instrument) ||
		contains(s.priorityVenues, opp.SourceVenue) ||
		contains(s.priorityVenues, opp.TargetVenue)
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() domain.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay(s.now())
	return domain.SchedulerStats{
		Running:             s.running,
		ActiveExecutions:    s.active,
		MaxConcurrentTrades: s.cfg.MaxConcurrentTrades,
		DailyTrades:         s.dailyTrades,
		MaxDailyTrades:      s.cfg.MaxDailyTrades,
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
