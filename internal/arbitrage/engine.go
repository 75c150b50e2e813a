package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Ingester accepts detected opportunities and returns those newly tracked.
type Ingester interface {
	Ingest(opps []domain.Opportunity) []domain.ExecutableOpportunity
}

// Engine runs Detect on every published snapshot and hands the results to
// the opportunity registry.
type Engine struct {
	cfg      Config
	registry Ingester
	now      func() time.Time
	logger   *slog.Logger

	detected atomic.Int64
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, registry Ingester, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "arb_engine")),
	}
}

// Run subscribes the engine to snapshots and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, snapshots *bus.Bus[domain.Snapshot]) error {
	if err := snapshots.Subscribe(ctx, "arb_engine", 4, e.HandleSnapshot); err != nil {
		return fmt.Errorf("arb engine: subscribe snapshots: %w", err)
	}
	e.logger.InfoContext(ctx, "arb engine started",
		slog.Float64("min_profit_pct", e.cfg.MinProfitThresholdPct),
		slog.Float64("trade_size_usd", e.cfg.TradeSizeUSD),
	)
	defer e.logger.Info("arb engine stopped")

	<-ctx.Done()
	return ctx.Err()
}

// HandleSnapshot detects and ingests opportunities for one snapshot.
func (e *Engine) HandleSnapshot(ctx context.Context, snap domain.Snapshot) error {
	opps := Detect(snap, e.cfg, e.now())
	if len(opps) == 0 {
		return nil
	}
	e.detected.Add(int64(len(opps)))

	created := e.registry.Ingest(opps)
	e.logger.DebugContext(ctx, "opportunities detected",
		slog.Uint64("snapshot_seq", snap.Seq),
		slog.Int("detected", len(opps)),
		slog.Int("new", len(created)),
		slog.Float64("best_pct", opps[0].ProfitPct),
	)
	return nil
}

// Detected returns the total number of opportunities produced by Detect.
func (e *Engine) Detected() int64 { return e.detected.Load() }
