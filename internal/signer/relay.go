package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/venuearb/internal/crypto"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

const (
	legsPath    = "/v1/legs"
	balancePath = "/v1/balance"
)

// RelayConfig configures a RelaySigner.
type RelayConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// RelaySigner signs each leg with the wallet and submits it to an execution
// relay, which places and confirms the trade on the venue.
//
//	POST {base_url}/v1/legs     {"request": {...}, "signature": "0x..", "address": "0x.."} -> SubmitResult
//	GET  {base_url}/v1/balance  -> {"balance_usd": 1234.5}
type RelaySigner struct {
	client *resty.Client
	auth   crypto.HMACAuth
	wallet LegSigner
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Signer = (*RelaySigner)(nil)

type relayLegBody struct {
	Request   domain.TradeLegRequest `json:"request"`
	Signature string                 `json:"signature"`
	Address   string                 `json:"address"`
}

type relayBalance struct {
	BalanceUSD float64 `json:"balance_usd"`
}

type relayError struct {
	Error string `json:"error"`
}

// NewRelay creates a RelaySigner.
func NewRelay(cfg RelayConfig, wallet LegSigner, logger *slog.Logger) (*RelaySigner, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("signer/relay: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &RelaySigner{
		client: client,
		auth:   crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		wallet: wallet,
		logger: logger.With(slog.String("component", "relay_signer")),
		now:    time.Now,
	}, nil
}

func (r *RelaySigner) Address() string { return r.wallet.Address() }

// Balance asks the relay for the wallet's USD balance.
func (r *RelaySigner) Balance(ctx context.Context) (float64, error) {
	var body relayBalance
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeaders(r.headers(http.MethodGet, balancePath, "")).
		SetQueryParam("address", r.wallet.Address()).
		ForceContentType("application/json").
		SetResult(&body).
		Get(balancePath)
	if err := checkRelay(resp, err); err != nil {
		return 0, fmt.Errorf("signer/relay: balance: %w", err)
	}
	return body.BalanceUSD, nil
}

// Submit signs req and posts it to the relay. A relay-side rejection comes
// back as a result with Success false rather than an error.
func (r *RelaySigner) Submit(ctx context.Context, req domain.TradeLegRequest) (domain.SubmitResult, error) {
	sig, err := r.wallet.SignLegRequest(req)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	payload, err := json.Marshal(relayLegBody{Request: req, Signature: sig, Address: r.wallet.Address()})
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("signer/relay: marshal: %w", err)
	}

	start := r.now()
	var out domain.SubmitResult
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeaders(r.headers(http.MethodPost, legsPath, string(payload))).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		ForceContentType("application/json").
		SetResult(&out).
		Post(legsPath)
	if err := checkRelay(resp, err); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("signer/relay: submit leg %d on %s: %w", req.Leg, req.Venue, err)
	}
	if out.ConfirmationTime == 0 {
		out.ConfirmationTime = r.now().Sub(start)
	}
	if out.Success && out.Signature == "" {
		out.Signature = sig
	}
	r.logger.DebugContext(ctx, "relay leg submitted",
		slog.String("venue", req.Venue),
		slog.Int("leg", req.Leg),
		slog.Bool("success", out.Success),
	)
	return out, nil
}

func (r *RelaySigner) headers(method, path, body string) map[string]string {
	return r.auth.HeadersAt(r.wallet.Address(), method, path, body, r.now().Unix())
}

func checkRelay(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	}
	var e relayError
	if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
}
