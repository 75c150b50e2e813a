// Package app wires the configured backing services into the quote,
// detection and execution pipeline and runs it in the selected mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/venuearb/internal/config"
	"github.com/alanyoungcy/venuearb/internal/notify"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires dependencies, runs the configured mode and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.startedAt = time.Now()
	log := a.logger.With(slog.String("component", "app"))
	log.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.Int("venues", len(a.cfg.EnabledVenues())),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.lifecycle(ctx, deps.Notifier, notify.EventBotStarted, "venuearb started")
	defer a.lifecycle(context.WithoutCancel(ctx), deps.Notifier, notify.EventBotStopped, "venuearb stopped")

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

func (a *App) lifecycle(ctx context.Context, n *notify.Notifier, event, title string) {
	msg := fmt.Sprintf("mode=%s venues=%d", a.cfg.Mode, len(a.cfg.EnabledVenues()))
	if err := n.Notify(ctx, event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "lifecycle notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
