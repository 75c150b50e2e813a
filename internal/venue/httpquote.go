package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// HTTPQuote polls a REST quote endpoint.
//
//	GET {base_url}/instruments        -> {"instruments": ["BTC/USD", ...]}
//	GET {base_url}/quotes/{symbol}    -> {"bid": 1.0, "ask": 1.1, "last": 1.05, "ts": 1700000000000}
type HTTPQuote struct {
	cfg    Config
	client *resty.Client
	logger *slog.Logger

	instruments []string
}

var _ domain.QuoteSource = (*HTTPQuote)(nil)

type httpInstruments struct {
	Instruments []string `json:"instruments"`
}

type httpQuoteBody struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
	TS   int64   `json:"ts"` // unix milliseconds, zero when unknown
}

// NewHTTPQuote builds an HTTP quote venue.
func NewHTTPQuote(cfg Config, logger *slog.Logger) (domain.QuoteSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("http venue needs base_url")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond)
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &HTTPQuote{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "venue_http"), slog.String("venue", cfg.Name)),
	}, nil
}

func (h *HTTPQuote) Name() string { return h.cfg.Name }

// Initialize loads the instrument list. Configured instruments take
// precedence over the venue's own list.
func (h *HTTPQuote) Initialize(ctx context.Context) error {
	var body httpInstruments
	resp, err := h.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/instruments")
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("http venue %s: instruments: %w", h.cfg.Name, err)
	}
	if len(h.cfg.Instruments) > 0 {
		h.instruments = append([]string(nil), h.cfg.Instruments...)
	} else {
		h.instruments = body.Instruments
	}
	h.logger.InfoContext(ctx, "http venue initialized", slog.Int("instruments", len(h.instruments)))
	return nil
}

func (h *HTTPQuote) ListSupportedInstruments() []string {
	return append([]string(nil), h.instruments...)
}

func (h *HTTPQuote) GetPrice(ctx context.Context, instrument string) (domain.Price, error) {
	var body httpQuoteBody
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("symbol", h.cfg.Symbol(instrument)).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/quotes/{symbol}")
	if err := checkResponse(resp, err); err != nil {
		return domain.Price{}, fmt.Errorf("http venue %s: %s: %w", h.cfg.Name, instrument, err)
	}

	p := domain.Price{Bid: body.Bid, Ask: body.Ask, Last: body.Last}
	if body.TS > 0 {
		p.Timestamp = time.UnixMilli(body.TS)
	}
	return p, nil
}

// checkResponse folds transport errors and non-2xx statuses into errors
// wrapping domain.ErrSourceUnavailable.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Join(domain.ErrSourceUnavailable, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusTooManyRequests:
		return errors.Join(domain.ErrSourceUnavailable, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Join(domain.ErrSourceUnavailable, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return errors.Join(domain.ErrSourceUnavailable, domain.ErrNotFound)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrSourceUnavailable, resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
}
