// Package signer provides the Signer implementations used by the executor:
// a paper signer that fills against live quotes and a relay signer that
// forwards wallet-signed legs to an execution service.
package signer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// LegSigner signs leg requests with the trading key.
type LegSigner interface {
	Address() string
	SignLegRequest(req domain.TradeLegRequest) (string, error)
}

// PaperConfig configures a PaperSigner.
type PaperConfig struct {
	BalanceUSD float64
	FeeBps     float64
	Latency    time.Duration
}

// PaperSigner simulates fills at the latest bid/ask reported by the
// aggregator. Buys spend USD balance; sells credit it. Every fill carries a
// real signature from the wallet.
type PaperSigner struct {
	cfg    PaperConfig
	quotes domain.QuoteLookup
	wallet LegSigner
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	balance decimal.Decimal
}

var _ domain.Signer = (*PaperSigner)(nil)

// NewPaper creates a PaperSigner.
func NewPaper(cfg PaperConfig, quotes domain.QuoteLookup, wallet LegSigner, logger *slog.Logger) *PaperSigner {
	return &PaperSigner{
		cfg:     cfg,
		quotes:  quotes,
		wallet:  wallet,
		logger:  logger.With(slog.String("component", "paper_signer")),
		now:     time.Now,
		balance: decimal.NewFromFloat(cfg.BalanceUSD),
	}
}

func (p *PaperSigner) Address() string { return p.wallet.Address() }

// Balance returns the simulated USD balance.
func (p *PaperSigner) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.InexactFloat64(), nil
}

// Submit fills req against the current quote for its venue and instrument.
// A buy converts InputAmount USD into units at the ask; a sell converts
// InputAmount units into USD at the bid. Fees are taken in USD.
func (p *PaperSigner) Submit(ctx context.Context, req domain.TradeLegRequest) (domain.SubmitResult, error) {
	start := p.now()
	if p.cfg.Latency > 0 {
		t := time.NewTimer(p.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.SubmitResult{}, ctx.Err()
		case <-t.C:
		}
	}

	q, ok := p.quotes.Latest(req.Venue, req.Instrument)
	if !ok || !q.Usable() {
		return domain.SubmitResult{}, fmt.Errorf("signer/paper: no quote for %s on %s: %w", req.Instrument, req.Venue, domain.ErrSourceUnavailable)
	}

	sig, err := p.wallet.SignLegRequest(req)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	input := decimal.NewFromFloat(req.InputAmount)
	feeRate := decimal.NewFromFloat(p.cfg.FeeBps).Div(decimal.NewFromInt(10_000))

	p.mu.Lock()
	defer p.mu.Unlock()

	var out, fee decimal.Decimal
	switch req.Side {
	case domain.SideBuy:
		if p.balance.LessThan(input) {
			return domain.SubmitResult{Success: false, Error: "insufficient balance"}, nil
		}
		fee = input.Mul(feeRate)
		out = input.Sub(fee).Div(decimal.NewFromFloat(q.Ask))
		p.balance = p.balance.Sub(input)
	case domain.SideSell:
		gross := input.Mul(decimal.NewFromFloat(q.Bid))
		fee = gross.Mul(feeRate)
		out = gross.Sub(fee)
		p.balance = p.balance.Add(out)
	default:
		return domain.SubmitResult{}, fmt.Errorf("signer/paper: unknown side %q", req.Side)
	}

	res := domain.SubmitResult{
		Success:          true,
		Signature:        sig,
		OutputAmount:     out.InexactFloat64(),
		Fee:              fee.InexactFloat64(),
		ConfirmationTime: p.now().Sub(start),
	}
	p.logger.DebugContext(ctx, "paper fill",
		slog.String("venue", req.Venue),
		slog.String("instrument", req.Instrument),
		slog.String("side", string(req.Side)),
		slog.Float64("input", req.InputAmount),
		slog.Float64("output", res.OutputAmount),
		slog.Float64("fee", res.Fee),
	)
	return res, nil
}
