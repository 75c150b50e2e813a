package domain

import "context"

// QuoteSource is the per-venue price capability. Recoverable failures are
// reported as errors wrapping ErrSourceUnavailable; implementations must not
// panic on bad venue responses.
type QuoteSource interface {
	// Name returns the configured venue name.
	Name() string
	// Initialize connects to the venue. A venue that fails to initialize is
	// excluded from polling.
	Initialize(ctx context.Context) error
	// ListSupportedInstruments returns the instruments the venue can quote.
	ListSupportedInstruments() []string
	// GetPrice returns the current bid/ask/last for instrument.
	GetPrice(ctx context.Context, instrument string) (Price, error)
}

// QuoteLookup gives read access to the latest quote table.
type QuoteLookup interface {
	Latest(venue, instrument string) (Quote, bool)
}
