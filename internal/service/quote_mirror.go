// Package service bridges the in-process pipeline to the shared
// infrastructure: the Redis quote cache and signal bus, Postgres and the
// chat notifier.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

// SnapshotCache is a QuoteCache that can also write a whole snapshot at
// once.
type SnapshotCache interface {
	domain.QuoteCache
	SetSnapshot(ctx context.Context, s domain.Snapshot) error
}

// QuoteMirror copies every snapshot into the shared quote cache and
// publishes it on the signal bus, so other processes see the same prices.
type QuoteMirror struct {
	cache  SnapshotCache
	signal domain.SignalBus
	logger *slog.Logger
}

// NewQuoteMirror creates a QuoteMirror. Either cache or signal may be nil.
func NewQuoteMirror(cache SnapshotCache, signal domain.SignalBus, logger *slog.Logger) *QuoteMirror {
	return &QuoteMirror{
		cache:  cache,
		signal: signal,
		logger: logger.With(slog.String("component", "quote_mirror")),
	}
}

// Run mirrors snapshots from snaps until ctx is cancelled.
func (m *QuoteMirror) Run(ctx context.Context, snaps *bus.Bus[domain.Snapshot]) error {
	if err := snaps.Subscribe(ctx, "quote_mirror", bus.DefaultBuffer, m.HandleSnapshot); err != nil {
		return fmt.Errorf("quote_mirror: subscribe: %w", err)
	}
	defer snaps.Unsubscribe("quote_mirror")
	<-ctx.Done()
	return nil
}

// HandleSnapshot writes s to the cache and publishes it on ch:snapshot.
// A cache failure does not prevent the publish.
func (m *QuoteMirror) HandleSnapshot(ctx context.Context, s domain.Snapshot) error {
	var cacheErr error
	if m.cache != nil {
		if err := m.cache.SetSnapshot(ctx, s); err != nil {
			cacheErr = fmt.Errorf("quote_mirror: cache snapshot %d: %w", s.Seq, err)
		}
	}
	if m.signal != nil {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("quote_mirror: marshal snapshot %d: %w", s.Seq, err)
		}
		if err := m.signal.Publish(ctx, domain.ChannelSnapshot, payload); err != nil {
			m.logger.WarnContext(ctx, "publish snapshot failed",
				slog.Uint64("seq", s.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	return cacheErr
}
