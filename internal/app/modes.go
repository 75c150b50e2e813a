package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuearb/internal/arbitrage"
	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/config"
	"github.com/alanyoungcy/venuearb/internal/crypto"
	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/executor"
	"github.com/alanyoungcy/venuearb/internal/market"
	"github.com/alanyoungcy/venuearb/internal/opportunity"
	"github.com/alanyoungcy/venuearb/internal/scheduler"
	"github.com/alanyoungcy/venuearb/internal/server"
	"github.com/alanyoungcy/venuearb/internal/server/handler"
	"github.com/alanyoungcy/venuearb/internal/server/ws"
	"github.com/alanyoungcy/venuearb/internal/service"
	"github.com/alanyoungcy/venuearb/internal/signer"
	"github.com/alanyoungcy/venuearb/internal/venue"
)

// pipeline holds the components shared by every mode: aggregation,
// detection and the registry with its expiry loop.
type pipeline struct {
	snaps   *bus.Bus[domain.Snapshot]
	opps    *bus.Bus[domain.OpportunityEvent]
	results *bus.Bus[domain.ExecutionResult]
	states  *bus.Bus[domain.ExecutionEvent]

	sources    []domain.QuoteSource
	aggregator *market.Aggregator
	registry   *opportunity.Registry
	engine     *arbitrage.Engine
	janitor    *opportunity.Janitor
	history    *executor.History

	// set in trade mode only
	scheduler *scheduler.Scheduler
}

func (a *App) buildPipeline(ctx context.Context, deps *Dependencies) (*pipeline, error) {
	venueCfgs, err := VenueConfigs(a.cfg)
	if err != nil {
		return nil, err
	}
	sources, err := venue.NewRegistry().BuildAll(venueCfgs, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build venues: %w", err)
	}

	p := &pipeline{
		snaps:   bus.New[domain.Snapshot]("snapshots", a.logger),
		opps:    bus.New[domain.OpportunityEvent]("opportunities", a.logger),
		results: bus.New[domain.ExecutionResult]("executions", a.logger),
		states:  bus.New[domain.ExecutionEvent]("execution_states", a.logger),
		sources: sources,
		history: executor.NewHistory(a.cfg.Executor.HistorySize),
	}

	p.aggregator = market.NewAggregator(market.Config{
		PollingInterval: a.cfg.Market.PollingInterval.Duration,
		FetchTimeout:    a.cfg.Market.FetchTimeout.Duration,
		Instruments:     a.cfg.Market.Instruments,
	}, sources, p.snaps, a.logger)
	if err := p.aggregator.Initialize(ctx); err != nil {
		p.close(a.logger)
		return nil, fmt.Errorf("app: initialize venues: %w", err)
	}

	p.registry = opportunity.New(opportunity.Config{
		Retention:   a.cfg.Registry.Retention.Duration,
		DedupWindow: a.cfg.Registry.DedupWindow.Duration,
	}, p.opps, a.logger)

	p.engine = arbitrage.NewEngine(arbitrage.Config{
		MinProfitThresholdPct: a.cfg.Detector.MinProfitThresholdPct,
		TradeSizeUSD:          a.cfg.Detector.TradeSizeUSD,
		GasCostUSD:            a.cfg.Detector.GasCostUSD,
		MaxQuoteAge:           a.cfg.Market.MaxQuoteAge.Duration,
	}, p.registry, a.logger)

	p.janitor = opportunity.NewJanitor(p.registry, deps.Archiver, a.cfg.Registry.ExpireInterval.Duration, a.logger)
	return p, nil
}

// close releases sources that hold connections and shuts the buses. It
// runs after every producer has stopped; closing a bus lets the recorder
// finish what is still queued on it.
func (p *pipeline) close(logger *slog.Logger) {
	for _, src := range p.sources {
		if c, ok := src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("close venue failed",
					slog.String("venue", src.Name()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	p.snaps.Close()
	p.opps.Close()
	p.results.Close()
	p.states.Close()
}

func (p *pipeline) status(mode string, startedAt time.Time) domain.BotStatus {
	st := domain.BotStatus{
		Mode:     mode,
		Registry: p.registry.Status(),
		Venues:   p.aggregator.Venues(),
		Uptime:   time.Since(startedAt),
	}
	if p.scheduler != nil {
		st.Scheduler = p.scheduler.Stats()
	}
	return st
}

// startCommon launches the goroutines shared by both modes.
func (a *App) startCommon(ctx context.Context, g *errgroup.Group, p *pipeline, deps *Dependencies) {
	g.Go(func() error { return p.engine.Run(ctx, p.snaps) })
	g.Go(func() error { return p.janitor.Run(ctx) })

	recorder := service.NewRecorder(service.RecorderDeps{
		Opportunities: deps.Opportunities,
		Executions:    deps.Executions,
		Audit:         deps.Audit,
		Signal:        deps.Signal,
		Notifier:      deps.Notifier,
	}, a.logger)
	g.Go(func() error { return recorder.Run(ctx, p.opps, p.results, p.states) })

	if deps.Quotes != nil {
		mirror := service.NewQuoteMirror(deps.Quotes, deps.Signal, a.logger)
		g.Go(func() error { return mirror.Run(ctx, p.snaps) })
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, p, deps)
	}

	g.Go(func() error { return p.aggregator.Run(ctx) })
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, p *pipeline, deps *Dependencies) {
	statusFn := func() domain.BotStatus { return p.status(a.cfg.Mode, a.startedAt) }

	var executions domain.ExecutionStore = p.history
	if deps.Executions != nil {
		executions = deps.Executions
	}

	h := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Health, a.logger),
		Status:        handler.NewStatusHandler(statusFn),
		Opportunities: handler.NewOpportunityHandler(p.registry, deps.Opportunities, a.logger),
		Snapshot:      handler.NewSnapshotHandler(p.aggregator),
		Executions:    handler.NewExecutionHandler(executions, a.logger),
	}
	if deps.BlobReader != nil {
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, a.cfg.S3.ArchivePrefix, a.logger)
	}

	hub := ws.NewHub(deps.Signal, ws.Config{Status: statusFn}, a.logger)
	srv := server.NewServer(server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
}

// MonitorMode aggregates, detects and tracks opportunities without
// executing them.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	p, err := a.buildPipeline(ctx, deps)
	if err != nil {
		return err
	}
	defer p.close(a.logger)

	g, gctx := errgroup.WithContext(ctx)
	a.startCommon(gctx, g, p, deps)
	return wait(g)
}

// TradeMode runs the full pipeline and executes admitted opportunities.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	p, err := a.buildPipeline(ctx, deps)
	if err != nil {
		return err
	}
	defer p.close(a.logger)

	sgn, err := a.buildSigner(p.aggregator)
	if err != nil {
		return err
	}

	p.scheduler = scheduler.New(scheduler.Config{
		MaxConcurrentTrades:   a.cfg.Scheduler.MaxConcurrentTrades,
		Cooldown:              a.cfg.Scheduler.Cooldown.Duration,
		MinProfitThresholdPct: a.cfg.Detector.MinProfitThresholdPct,
		MaxDailyTrades:        a.cfg.Scheduler.MaxDailyTrades,
		MinTradeInterval:      a.cfg.Scheduler.MinTradeInterval.Duration,
		BlacklistInstruments:  a.cfg.Scheduler.BlacklistInstruments,
		BlacklistVenues:       a.cfg.Scheduler.BlacklistVenues,
		PriorityInstruments:   a.cfg.Scheduler.PriorityInstruments,
		PriorityVenues:        a.cfg.Scheduler.PriorityVenues,
	}, a.logger)
	p.scheduler.Start()
	defer p.scheduler.Stop()

	exec := executor.New(sgn, deps.RateLimiter, p.states, a.logger)
	dispatcher := executor.NewDispatcher(executor.DispatcherConfig{
		Params: executor.Params{
			SlippageTolerance: a.cfg.Executor.SlippageTolerance,
			MaxRetries:        a.cfg.Executor.MaxRetries,
			RetryBackoff:      a.cfg.Executor.RetryBackoff.Duration,
			ConfirmTimeout:    a.cfg.Executor.ConfirmTimeout.Duration,
			ConfirmationLevel: a.cfg.Executor.ConfirmationLevel,
			SubmitRateLimit:   a.cfg.Executor.SubmitRateLimit,
			SubmitRateWindow:  a.cfg.Executor.SubmitRateWindow.Duration,
		},
		MaxQuoteAge: a.cfg.Market.MaxQuoteAge.Duration,
		LockTTL:     a.cfg.Executor.LockTTL.Duration,
	}, p.registry, p.scheduler, exec, deps.Locks, p.history, p.results, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx, p.opps, p.snaps) })
	a.startCommon(gctx, g, p, deps)
	return wait(g)
}

// buildSigner returns the configured trade signer. The paper signer falls
// back to an ephemeral wallet when no key is configured.
func (a *App) buildSigner(quotes domain.QuoteLookup) (domain.Signer, error) {
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}

	var (
		wallet *crypto.Wallet
		err    error
	)
	if keyCfg.Empty() {
		wallet, err = crypto.GenerateWallet(a.cfg.Wallet.ChainID)
	} else {
		wallet, err = crypto.LoadWallet(keyCfg, a.cfg.Wallet.ChainID)
	}
	if err != nil {
		return nil, fmt.Errorf("app: wallet: %w", err)
	}

	switch a.cfg.Signer.Kind {
	case config.SignerRelay:
		relay, err := signer.NewRelay(signer.RelayConfig{
			BaseURL:   a.cfg.Signer.RelayURL,
			APIKey:    a.cfg.Signer.RelayAPIKey,
			APISecret: a.cfg.Signer.RelayAPISecret,
			Timeout:   a.cfg.Signer.RelayTimeout.Duration,
		}, wallet, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: relay signer: %w", err)
		}
		a.logger.Info("using relay signer", slog.String("address", wallet.Address()))
		return relay, nil
	default:
		a.logger.Info("using paper signer",
			slog.String("address", wallet.Address()),
			slog.Float64("balance_usd", a.cfg.Signer.PaperBalanceUSD),
			slog.Bool("ephemeral_wallet", keyCfg.Empty()),
		)
		return signer.NewPaper(signer.PaperConfig{
			BalanceUSD: a.cfg.Signer.PaperBalanceUSD,
			FeeBps:     a.cfg.Signer.PaperFeeBps,
			Latency:    a.cfg.Signer.PaperLatency.Duration,
		}, quotes, wallet, a.logger), nil
	}
}

// wait treats cancellation as a clean stop.
func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
