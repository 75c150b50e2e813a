package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/scheduler"
)

// Registry is the part of the opportunity registry the dispatcher drives.
type Registry interface {
	GetOpportunitiesByStatus(status domain.ExecStatus) []domain.ExecutableOpportunity
	Transition(id string, from, to domain.ExecStatus, f domain.TransitionFields) (domain.ExecutableOpportunity, error)
}

// Admitter grants execution slots.
type Admitter interface {
	Admit(opp domain.Opportunity) (scheduler.Release, error)
}

// Runner executes a single admitted opportunity.
type Runner interface {
	Execute(ctx context.Context, opp domain.Opportunity, p Params) domain.ExecutionResult
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Params      Params
	MaxQuoteAge time.Duration
	LockTTL     time.Duration
}

// Dispatcher moves pending registry entries through admission and
// execution. It sweeps the pending set whenever a new entry is created or a
// new snapshot arrives.
type Dispatcher struct {
	cfg      DispatcherConfig
	registry Registry
	admitter Admitter
	runner   Runner
	locks    domain.LockManager
	history  domain.ExecutionStore
	results  *bus.Bus[domain.ExecutionResult]
	logger   *slog.Logger
	now      func() time.Time
	trigger  chan struct{}
	fatal    chan error
	wg       sync.WaitGroup
	inflight sync.Map // opportunity id -> struct{}
}

// lockMargin is added to the worst-case execution time when sizing the
// execution lock.
const lockMargin = 30 * time.Second

// NewDispatcher creates a Dispatcher. locks, history and results may be nil.
// The lock TTL is raised to cover the worst-case execution so a lock never
// lapses while its trade is still running.
func NewDispatcher(
	cfg DispatcherConfig,
	registry Registry,
	admitter Admitter,
	runner Runner,
	locks domain.LockManager,
	history domain.ExecutionStore,
	results *bus.Bus[domain.ExecutionResult],
	logger *slog.Logger,
) *Dispatcher {
	log := logger.With(slog.String("component", "dispatcher"))
	if floor := cfg.Params.WorstCase() + lockMargin; cfg.LockTTL < floor {
		if cfg.LockTTL > 0 {
			log.Warn("lock ttl below worst-case execution, raising it",
				slog.Duration("configured", cfg.LockTTL),
				slog.Duration("lock_ttl", floor),
			)
		}
		cfg.LockTTL = floor
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		admitter: admitter,
		runner:   runner,
		locks:    locks,
		history:  history,
		results:  results,
		logger:   log,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
		fatal:    make(chan error, 1),
	}
}

// LockTTL returns the effective execution lock TTL.
func (d *Dispatcher) LockTTL() time.Duration {
	return d.cfg.LockTTL
}

// Notify requests a sweep. Calls made while a sweep is already queued are
// coalesced.
func (d *Dispatcher) Notify() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run subscribes to registry events and snapshots and dispatches until ctx
// is cancelled. In-flight executions are allowed to finish before Run
// returns. A concurrency invariant violation stops the loop and is returned.
func (d *Dispatcher) Run(ctx context.Context, opps *bus.Bus[domain.OpportunityEvent], snaps *bus.Bus[domain.Snapshot]) error {
	if opps != nil {
		err := opps.Subscribe(ctx, "dispatcher", bus.DefaultBuffer, func(_ context.Context, ev domain.OpportunityEvent) error {
			if ev.Type == domain.EventCreated {
				d.Notify()
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("dispatcher: subscribe opportunities: %w", err)
		}
		defer opps.Unsubscribe("dispatcher")
	}
	if snaps != nil {
		err := snaps.Subscribe(ctx, "dispatcher", bus.DefaultBuffer, func(context.Context, domain.Snapshot) error {
			d.Notify()
			return nil
		})
		if err != nil {
			return fmt.Errorf("dispatcher: subscribe snapshots: %w", err)
		}
		defer snaps.Unsubscribe("dispatcher")
	}

	d.logger.InfoContext(ctx, "dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case err := <-d.fatal:
			d.drain()
			return err
		case <-d.trigger:
			d.Sweep(ctx)
		}
	}
}

// Sweep tries to start every pending entry, most profitable first. It
// returns the number of executions started.
func (d *Dispatcher) Sweep(ctx context.Context) int {
	pending := d.registry.GetOpportunitiesByStatus(domain.StatusPending)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].ProfitPct > pending[j].ProfitPct
	})

	now := d.now()
	started := 0
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		if d.cfg.MaxQuoteAge > 0 && now.Sub(e.DetectedAt) > d.cfg.MaxQuoteAge {
			d.logger.DebugContext(ctx, "skipping stale opportunity",
				slog.String("opportunity_id", e.ID),
				slog.String("error", domain.ErrStaleData.Error()),
			)
			continue
		}
		if d.start(ctx, e.Opportunity) {
			started++
		}
	}
	return started
}

func (d *Dispatcher) start(ctx context.Context, opp domain.Opportunity) bool {
	if _, busy := d.inflight.LoadOrStore(opp.ID, struct{}{}); busy {
		return false
	}
	// One execution per venue pair, instrument and direction across every
	// instance sharing the lock store.
	unlock := func() {}
	if d.locks != nil {
		u, err := d.locks.Acquire(ctx, lockKey(opp), d.cfg.LockTTL)
		if err != nil {
			d.inflight.Delete(opp.ID)
			if !errors.Is(err, domain.ErrLockHeld) {
				d.logger.WarnContext(ctx, "execution lock failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
			return false
		}
		unlock = u
	}

	release, err := d.admitter.Admit(opp)
	if err != nil {
		unlock()
		d.inflight.Delete(opp.ID)
		return false
	}

	if _, err := d.registry.Transition(opp.ID, domain.StatusPending, domain.StatusExecuting, domain.TransitionFields{At: d.now()}); err != nil {
		d.logger.DebugContext(ctx, "lost transition to executing",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		d.releaseSlot(opp.ID, release)
		unlock()
		d.inflight.Delete(opp.ID)
		return false
	}

	d.wg.Add(1)
	go d.execute(context.WithoutCancel(ctx), opp, release, unlock)
	return true
}

func lockKey(opp domain.Opportunity) string {
	return "exec:" + opp.PairKey()
}

// execute runs opp and records the outcome. Once the slot and lock are
// released it requests a sweep so pending entries waiting on them start.
func (d *Dispatcher) execute(ctx context.Context, opp domain.Opportunity, release scheduler.Release, unlock func()) {
	defer d.wg.Done()
	defer d.Notify()
	defer d.inflight.Delete(opp.ID)
	defer unlock()
	defer d.releaseSlot(opp.ID, release)

	res := d.runner.Execute(ctx, opp, d.cfg.Params)

	to := domain.StatusFailed
	fields := domain.TransitionFields{
		At:          res.CompletedAt,
		Signatures:  res.Signatures(),
		Fees:        res.Fees,
		ErrorReason: res.ErrorReason,
	}
	if sigs := fields.Signatures; len(sigs) > 0 {
		fields.TxReference = sigs[len(sigs)-1]
	}
	if res.Succeeded() {
		to = domain.StatusCompleted
		fields.ActualProfit = res.Profit
		fields.ActualProfitPct = res.ProfitPct
	}

	if _, err := d.registry.Transition(opp.ID, domain.StatusExecuting, to, fields); err != nil {
		d.logger.ErrorContext(ctx, "final transition failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
	}

	if d.history != nil {
		if err := d.history.Create(ctx, res); err != nil {
			d.logger.WarnContext(ctx, "record execution failed",
				slog.String("execution_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if d.results != nil {
		d.results.Publish(res)
	}
}

func (d *Dispatcher) releaseSlot(id string, release scheduler.Release) {
	if err := release(); err != nil {
		d.logger.Error("release failed",
			slog.String("opportunity_id", id),
			slog.String("error", err.Error()),
		)
		select {
		case d.fatal <- err:
		default:
		}
	}
}

// drain waits for in-flight executions to finish.
func (d *Dispatcher) drain() {
	d.logger.Info("waiting for in-flight executions")
	d.wg.Wait()
}
