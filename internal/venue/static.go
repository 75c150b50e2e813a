package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Static quotes fixed prices from configuration. It is meant for paper
// trading and tests; prices can be changed at runtime with Set.
type Static struct {
	name string
	now  func() time.Time

	mu     sync.RWMutex
	quotes map[string]StaticQuote
}

var _ domain.QuoteSource = (*Static)(nil)

// NewStatic builds a static venue from cfg.Quotes.
func NewStatic(cfg Config, _ *slog.Logger) (domain.QuoteSource, error) {
	if len(cfg.Quotes) == 0 {
		return nil, errors.New("static venue needs at least one quote")
	}
	s := &Static{
		name:   cfg.Name,
		now:    time.Now,
		quotes: make(map[string]StaticQuote, len(cfg.Quotes)),
	}
	for inst, q := range cfg.Quotes {
		s.quotes[inst] = q
	}
	return s, nil
}

func (s *Static) Name() string { return s.name }

func (s *Static) Initialize(context.Context) error { return nil }

func (s *Static) ListSupportedInstruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for inst := range s.quotes {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (s *Static) GetPrice(_ context.Context, instrument string) (domain.Price, error) {
	s.mu.RLock()
	q, ok := s.quotes[instrument]
	s.mu.RUnlock()
	if !ok {
		return domain.Price{}, fmt.Errorf("static %s: %s: %w", s.name, instrument, domain.ErrSourceUnavailable)
	}
	return domain.Price{Bid: q.Bid, Ask: q.Ask, Last: q.Last, Timestamp: s.now()}, nil
}

// Set replaces the quote for instrument.
func (s *Static) Set(instrument string, q StaticQuote) {
	s.mu.Lock()
	s.quotes[instrument] = q
	s.mu.Unlock()
}
