package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/platform/kalshi"
)

// Kalshi quotes the YES side of binary markets from the REST orderbook.
// Instruments are mapped to market tickers through Config.Symbols.
type Kalshi struct {
	cfg    Config
	client *kalshi.Client
	logger *slog.Logger
}

var _ domain.QuoteSource = (*Kalshi)(nil)

// NewKalshi builds a Kalshi venue.
func NewKalshi(cfg Config, logger *slog.Logger) (domain.QuoteSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("kalshi venue needs base_url")
	}
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("kalshi venue needs instruments")
	}
	client := kalshi.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	if len(cfg.RSAPrivateKeyPEM) > 0 {
		if err := client.SetRSAPrivateKey(cfg.RSAPrivateKeyPEM); err != nil {
			return nil, err
		}
	}
	return &Kalshi{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "venue_kalshi"), slog.String("venue", cfg.Name)),
	}, nil
}

func (k *Kalshi) Name() string { return k.cfg.Name }

// Initialize checks that every configured market exists and is open.
func (k *Kalshi) Initialize(ctx context.Context) error {
	for _, inst := range k.cfg.Instruments {
		m, err := k.client.GetMarket(ctx, k.cfg.Symbol(inst))
		if err != nil {
			return fmt.Errorf("kalshi venue %s: %w", k.cfg.Name, err)
		}
		if m.Status != "" && m.Status != "open" && m.Status != "active" {
			k.logger.WarnContext(ctx, "kalshi market not open",
				slog.String("ticker", m.Ticker),
				slog.String("status", m.Status),
			)
		}
	}
	return nil
}

func (k *Kalshi) ListSupportedInstruments() []string {
	return append([]string(nil), k.cfg.Instruments...)
}

func (k *Kalshi) GetPrice(ctx context.Context, instrument string) (domain.Price, error) {
	ob, err := k.client.GetOrderbook(ctx, k.cfg.Symbol(instrument), 1)
	if err != nil {
		return domain.Price{}, errors.Join(domain.ErrSourceUnavailable, err)
	}
	bid, ask, ok := ob.TopOfBook()
	if !ok {
		return domain.Price{}, fmt.Errorf("kalshi venue %s: %s: empty book: %w", k.cfg.Name, instrument, domain.ErrSourceUnavailable)
	}
	return domain.Price{Bid: bid, Ask: ask, Timestamp: ob.Timestamp}, nil
}
