// Package market polls quote sources and publishes per-instrument snapshots.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Defaults applied by NewAggregator.
const (
	DefaultPollingInterval = 5 * time.Second
	DefaultFetchTimeout    = 3 * time.Second
)

// Config configures the Aggregator.
type Config struct {
	PollingInterval time.Duration
	FetchTimeout    time.Duration
	// Instruments restricts polling to these instruments when non-empty.
	Instruments []string
}

type quoteKey struct {
	venue      string
	instrument string
}

// Aggregator owns the latest quote per (venue, instrument). It is the only
// writer of that table; a Snapshot is published once per completed cycle.
type Aggregator struct {
	cfg       Config
	sources   []domain.QuoteSource
	snapshots *bus.Bus[domain.Snapshot]
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	live  []venueSource
	table map[quoteKey]domain.Quote
	last  domain.Snapshot
	seq   uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type venueSource struct {
	src         domain.QuoteSource
	instruments []string
}

var _ domain.QuoteLookup = (*Aggregator)(nil)

// NewAggregator creates an Aggregator over sources. snapshots may be nil.
func NewAggregator(cfg Config, sources []domain.QuoteSource, snapshots *bus.Bus[domain.Snapshot], logger *slog.Logger) *Aggregator {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &Aggregator{
		cfg:       cfg,
		sources:   sources,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "market_aggregator")),
		now:       time.Now,
		table:     make(map[quoteKey]domain.Quote),
	}
}

// Initialize initializes every source. Sources that fail are logged and
// excluded. It returns domain.ErrNoLiveVenues when none succeeded.
func (a *Aggregator) Initialize(ctx context.Context) error {
	var live []venueSource
	for _, src := range a.sources {
		if err := src.Initialize(ctx); err != nil {
			a.logger.WarnContext(ctx, "venue initialization failed, excluding",
				slog.String("venue", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		insts := a.filter(src.ListSupportedInstruments())
		if len(insts) == 0 {
			a.logger.WarnContext(ctx, "venue has no configured instruments, excluding",
				slog.String("venue", src.Name()),
			)
			continue
		}
		live = append(live, venueSource{src: src, instruments: insts})
		a.logger.InfoContext(ctx, "venue live",
			slog.String("venue", src.Name()),
			slog.Int("instruments", len(insts)),
		)
	}

	a.mu.Lock()
	a.live = live
	a.mu.Unlock()

	if len(live) == 0 {
		return fmt.Errorf("market: initialize: %w", domain.ErrNoLiveVenues)
	}
	return nil
}

func (a *Aggregator) filter(supported []string) []string {
	if len(a.cfg.Instruments) == 0 {
		out := append([]string(nil), supported...)
		sort.Strings(out)
		return out
	}
	want := make(map[string]struct{}, len(a.cfg.Instruments))
	for _, inst := range a.cfg.Instruments {
		want[inst] = struct{}{}
	}
	var out []string
	for _, inst := range supported {
		if _, ok := want[inst]; ok {
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "market aggregator started",
		slog.Duration("polling_interval", a.cfg.PollingInterval),
		slog.Int("venues", len(a.Venues())),
	)
	defer a.logger.Info("market aggregator stopped")

	a.PollOnce(ctx)

	ticker := time.NewTicker(a.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.PollOnce(ctx)
		}
	}
}

// Start runs the polling loop in the background. Calling Start while
// already running is a no-op.
func (a *Aggregator) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	go func() {
		defer close(done)
		if err := a.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("market aggregator exited", slog.String("error", err.Error()))
		}
	}()
}

// Stop halts polling and waits for the current cycle to finish. It is safe
// to call more than once.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

type fetched struct {
	quotes []domain.Quote
	failed int
}

// PollOnce fetches every instrument of every live venue, updates the quote
// table and publishes a snapshot. Nothing is published when ctx is
// cancelled before the cycle completes. The published snapshot is returned.
func (a *Aggregator) PollOnce(ctx context.Context) (domain.Snapshot, bool) {
	a.mu.RLock()
	live := a.live
	a.mu.RUnlock()

	results := make([]fetched, len(live))
	var g errgroup.Group
	for i, vs := range live {
		g.Go(func() error {
			results[i] = a.fetchVenue(ctx, vs)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return domain.Snapshot{}, false
	}

	failed := 0
	a.mu.Lock()
	for _, r := range results {
		failed += r.failed
		for _, q := range r.quotes {
			a.table[quoteKey{venue: q.Venue, instrument: q.Instrument}] = q
		}
	}
	a.seq++
	snap := a.buildLocked()
	a.last = snap
	a.mu.Unlock()

	if failed > 0 {
		a.logger.DebugContext(ctx, "poll cycle had failures", slog.Int("failed", failed))
	}
	if a.snapshots != nil {
		a.snapshots.Publish(snap)
	}
	return snap, true
}

func (a *Aggregator) fetchVenue(ctx context.Context, vs venueSource) fetched {
	var out fetched
	venue := vs.src.Name()
	for _, inst := range vs.instruments {
		if ctx.Err() != nil {
			return out
		}
		fctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
		p, err := vs.src.GetPrice(fctx, inst)
		cancel()
		if err != nil {
			out.failed++
			a.logger.WarnContext(ctx, "quote fetch failed",
				slog.String("venue", venue),
				slog.String("instrument", inst),
				slog.String("error", err.Error()),
			)
			continue
		}
		out.quotes = append(out.quotes, domain.QuoteFromPrice(venue, inst, p, a.now()))
	}
	return out
}

// buildLocked assembles a new snapshot from the table. Quotes for each
// instrument are ordered by venue name.
func (a *Aggregator) buildLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Seq:     a.seq,
		TakenAt: a.now(),
		Quotes:  make(map[string][]domain.Quote),
	}
	for k, q := range a.table {
		snap.Quotes[k.instrument] = append(snap.Quotes[k.instrument], q)
	}
	for _, qs := range snap.Quotes {
		sort.Slice(qs, func(i, j int) bool { return qs[i].Venue < qs[j].Venue })
	}
	return snap
}

// Latest returns the current quote for venue and instrument.
func (a *Aggregator) Latest(venue, instrument string) (domain.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.table[quoteKey{venue: venue, instrument: instrument}]
	return q, ok
}

// Snapshot returns a copy of the last published snapshot.
func (a *Aggregator) Snapshot() domain.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last.Clone()
}

// Venues returns the names of the live venues.
func (a *Aggregator) Venues() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.live))
	for _, vs := range a.live {
		out = append(out, vs.src.Name())
	}
	sort.Strings(out)
	return out
}
