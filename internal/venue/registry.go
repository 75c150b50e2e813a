// Package venue builds quote sources from configuration. Each venue kind is
// registered under a name and selected per [[venues]] entry.
package venue

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Built-in venue kinds.
const (
	KindStatic = "static"
	KindHTTP   = "http"
	KindKalshi = "kalshi"
	KindOKX    = "okx"
)

// StaticQuote is a fixed bid/ask used by the static venue.
type StaticQuote struct {
	Bid  float64
	Ask  float64
	Last float64
}

// Config describes one venue.
type Config struct {
	Name    string
	Kind    string
	BaseURL string
	WSURL   string
	APIKey  string
	// RSAPrivateKeyPEM is the PEM-encoded key used by venues that sign
	// requests with RSA.
	RSAPrivateKeyPEM []byte
	Timeout          time.Duration
	// Instruments lists the instruments this venue quotes. Empty means
	// whatever the venue reports.
	Instruments []string
	// Symbols maps an instrument to the venue's own symbol when they differ.
	Symbols map[string]string
	Quotes  map[string]StaticQuote
}

// Symbol returns the venue symbol for instrument.
func (c Config) Symbol(instrument string) string {
	if s, ok := c.Symbols[instrument]; ok && s != "" {
		return s
	}
	return instrument
}

// Builder constructs a QuoteSource from its configuration.
type Builder func(cfg Config, logger *slog.Logger) (domain.QuoteSource, error)

// Registry holds venue builders keyed by kind.
type Registry struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

// NewRegistry returns a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register(KindStatic, NewStatic)
	r.Register(KindHTTP, NewHTTPQuote)
	r.Register(KindKalshi, NewKalshi)
	r.Register(KindOKX, NewOKX)
	return r
}

// Register adds or replaces the builder for kind.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Build constructs the source described by cfg.
func (r *Registry) Build(cfg Config, logger *slog.Logger) (domain.QuoteSource, error) {
	r.mu.RLock()
	b, ok := r.builders[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("venue %q: unknown kind %q (known: %v)", cfg.Name, cfg.Kind, r.Kinds())
	}
	src, err := b(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("venue %q: %w", cfg.Name, err)
	}
	return src, nil
}

// BuildAll constructs every configured venue. Venue names must be unique.
func (r *Registry) BuildAll(cfgs []Config, logger *slog.Logger) ([]domain.QuoteSource, error) {
	seen := make(map[string]struct{}, len(cfgs))
	out := make([]domain.QuoteSource, 0, len(cfgs))
	for _, c := range cfgs {
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("venue %q: %w", c.Name, domain.ErrAlreadyExists)
		}
		seen[c.Name] = struct{}{}
		src, err := r.Build(c, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
