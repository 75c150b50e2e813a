package opportunity

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Janitor expires registry entries on a fixed interval and hands them to an
// optional archiver.
type Janitor struct {
	registry *Registry
	archiver domain.Archiver
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor creates a Janitor. archiver may be nil.
func NewJanitor(registry *Registry, archiver domain.Archiver, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Janitor{
		registry: registry,
		archiver: archiver,
		interval: interval,
		logger:   logger.With(slog.String("component", "opportunity_janitor")),
		now:      time.Now,
	}
}

// Run expires entries every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns how many entries were removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	expired := j.registry.Expire(j.now())
	if len(expired) == 0 || j.archiver == nil {
		return len(expired)
	}

	path, err := j.archiver.ArchiveOpportunities(ctx, expired)
	if err != nil {
		j.logger.WarnContext(ctx, "archive expired opportunities failed",
			slog.Int("count", len(expired)),
			slog.String("error", err.Error()),
		)
		return len(expired)
	}
	j.logger.InfoContext(ctx, "archived expired opportunities",
		slog.Int("count", len(expired)),
		slog.String("path", path),
	)
	return len(expired)
}
