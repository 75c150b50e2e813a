// Package arbitrage compares per-venue quotes and ranks cross-venue price
// discrepancies that remain profitable after gas costs.
package arbitrage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// DefaultMaxQuoteAge is the freshness bound used when Config.MaxQuoteAge is
// not set.
const DefaultMaxQuoteAge = 30 * time.Second

// Config holds the detection parameters.
type Config struct {
	MinProfitThresholdPct float64
	TradeSizeUSD          float64
	GasCostUSD            float64
	MaxQuoteAge           time.Duration
}

var hundred = decimal.NewFromInt(100)

// Detect returns every profitable opportunity in snap, ordered by profit
// percentage descending. Equal percentages keep discovery order: instruments
// in lexical order, then venue pairs in snapshot order, buy before sell.
//
// Detect has no side effects and depends only on its arguments.
func Detect(snap domain.Snapshot, cfg Config, now time.Time) []domain.Opportunity {
	maxAge := cfg.MaxQuoteAge
	if maxAge <= 0 {
		maxAge = DefaultMaxQuoteAge
	}
	p := params{
		threshold: decimal.NewFromFloat(cfg.MinProfitThresholdPct),
		sizeUSD:   decimal.NewFromFloat(cfg.TradeSizeUSD),
		gas:       decimal.NewFromFloat(cfg.GasCostUSD),
		now:       now,
	}

	var out []domain.Opportunity
	for _, inst := range snap.Instruments() {
		quotes := snap.Quotes[inst]
		if len(quotes) < 2 {
			continue
		}
		for i := 0; i < len(quotes); i++ {
			qi := quotes[i]
			if !eligible(qi, now, maxAge) {
				continue
			}
			for j := i + 1; j < len(quotes); j++ {
				qj := quotes[j]
				if qi.Venue == qj.Venue || !eligible(qj, now, maxAge) {
					continue
				}
				if opp, ok := p.evaluate(qi, qj, domain.DirectionBuy); ok {
					out = append(out, opp)
				}
				if opp, ok := p.evaluate(qi, qj, domain.DirectionSell); ok {
					out = append(out, opp)
				}
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].ProfitPct > out[b].ProfitPct
	})
	return out
}

// eligible reports whether q may take part in detection.
func eligible(q domain.Quote, now time.Time, maxAge time.Duration) bool {
	return q.Usable() && q.Fresh(now, maxAge)
}

type params struct {
	threshold decimal.Decimal
	sizeUSD   decimal.Decimal
	gas       decimal.Decimal
	now       time.Time
}

// evaluate prices the (source=i, target=j) pair in one direction. A buy takes
// i's ask and hits j's bid; a sell hits i's bid and takes j's ask.
func (p params) evaluate(qi, qj domain.Quote, dir domain.Direction) (domain.Opportunity, bool) {
	var entry, exit, sourcePx, targetPx float64
	switch dir {
	case domain.DirectionBuy:
		entry, exit = qi.Ask, qj.Bid
		sourcePx, targetPx = qi.Ask, qj.Bid
	case domain.DirectionSell:
		entry, exit = qj.Ask, qi.Bid
		sourcePx, targetPx = qi.Bid, qj.Ask
	default:
		return domain.Opportunity{}, false
	}

	entryD := decimal.NewFromFloat(entry)
	exitD := decimal.NewFromFloat(exit)
	if !exitD.GreaterThan(entryD) {
		return domain.Opportunity{}, false
	}

	perUnit := exitD.Sub(entryD)
	pct := perUnit.Div(entryD).Mul(hundred)
	if pct.LessThan(p.threshold) {
		return domain.Opportunity{}, false
	}

	units := p.sizeUSD.Div(entryD)
	estimated := perUnit.Mul(units).Sub(p.gas)
	if !estimated.IsPositive() {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		ID:              domain.OpportunityID(qi.Venue, qj.Venue, qi.Instrument, dir, p.now),
		SourceVenue:     qi.Venue,
		TargetVenue:     qj.Venue,
		Instrument:      qi.Instrument,
		Direction:       dir,
		SourcePrice:     sourcePx,
		TargetPrice:     targetPx,
		ProfitPct:       pct.InexactFloat64(),
		EstimatedProfit: estimated.InexactFloat64(),
		TradeSize:       units.InexactFloat64(),
		NotionalUSD:     p.sizeUSD.InexactFloat64(),
		DetectedAt:      p.now,
	}, true
}
