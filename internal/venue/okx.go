package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/platform/okx"
)

// OKX quotes from the public tickers websocket. GetPrice returns the last
// pushed ticker, so a dead stream shows up as stale quotes.
type OKX struct {
	cfg    Config
	stream *okx.Stream
}

var _ domain.QuoteSource = (*OKX)(nil)

// NewOKX builds an OKX venue.
func NewOKX(cfg Config, logger *slog.Logger) (domain.QuoteSource, error) {
	if cfg.WSURL == "" {
		return nil, errors.New("okx venue needs ws_url")
	}
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("okx venue needs instruments")
	}
	return &OKX{cfg: cfg, stream: okx.NewStream(cfg.WSURL, logger.With(slog.String("venue", cfg.Name)))}, nil
}

func (o *OKX) Name() string { return o.cfg.Name }

func (o *OKX) Initialize(ctx context.Context) error {
	if err := o.stream.Connect(ctx); err != nil {
		return fmt.Errorf("okx venue %s: %w", o.cfg.Name, err)
	}
	ids := make([]string, 0, len(o.cfg.Instruments))
	for _, inst := range o.cfg.Instruments {
		ids = append(ids, o.cfg.Symbol(inst))
	}
	if err := o.stream.Subscribe(ids); err != nil {
		return fmt.Errorf("okx venue %s: %w", o.cfg.Name, err)
	}
	return nil
}

func (o *OKX) ListSupportedInstruments() []string {
	return append([]string(nil), o.cfg.Instruments...)
}

func (o *OKX) GetPrice(_ context.Context, instrument string) (domain.Price, error) {
	t, ok := o.stream.Latest(o.cfg.Symbol(instrument))
	if !ok {
		return domain.Price{}, fmt.Errorf("okx venue %s: %s: no ticker yet: %w", o.cfg.Name, instrument, domain.ErrSourceUnavailable)
	}
	return domain.Price{Bid: t.Bid, Ask: t.Ask, Last: t.Last, Timestamp: t.TS}, nil
}

// Close stops the websocket stream.
func (o *OKX) Close() error { return o.stream.Close() }
