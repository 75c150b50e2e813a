package signer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/crypto"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type quoteTable map[string]domain.Quote

func (q quoteTable) Latest(venue, instrument string) (domain.Quote, bool) {
	v, ok := q[venue+"|"+instrument]
	return v, ok
}

func testWallet(t *testing.T) *crypto.Wallet {
	t.Helper()
	w, err := crypto.GenerateWallet(137)
	require.NoError(t, err)
	return w
}

func TestPaperSigner_BuyThenSell(t *testing.T) {
	quotes := quoteTable{
		"alpha|BTC-USD": {Venue: "alpha", Instrument: "BTC-USD", Bid: 99, Ask: 100},
		"beta|BTC-USD":  {Venue: "beta", Instrument: "BTC-USD", Bid: 101, Ask: 102},
	}
	w := testWallet(t)
	p := NewPaper(PaperConfig{BalanceUSD: 5000, FeeBps: 10}, quotes, w, discard())

	buy := domain.TradeLegRequest{OpportunityID: "o", Leg: 1, Venue: "alpha", Instrument: "BTC-USD", Side: domain.SideBuy, InputAmount: 1000, Attempt: 1}
	r1, err := p.Submit(t.Context(), buy)
	require.NoError(t, err)
	assert.True(t, r1.Success)
	assert.InDelta(t, 1.0, r1.Fee, 1e-9)
	assert.InDelta(t, 9.99, r1.OutputAmount, 1e-9)

	addr, err := w.RecoverSigner(buy, r1.Signature)
	require.NoError(t, err)
	assert.Equal(t, p.Address(), addr)

	bal, err := p.Balance(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 4000, bal, 1e-9)

	sell := domain.TradeLegRequest{OpportunityID: "o", Leg: 2, Venue: "beta", Instrument: "BTC-USD", Side: domain.SideSell, InputAmount: r1.OutputAmount, Attempt: 1}
	r2, err := p.Submit(t.Context(), sell)
	require.NoError(t, err)
	gross := 9.99 * 101
	assert.InDelta(t, gross*0.001, r2.Fee, 1e-9)
	assert.InDelta(t, gross*0.999, r2.OutputAmount, 1e-9)

	bal, err = p.Balance(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 4000+gross*0.999, bal, 1e-9)
}

func TestPaperSigner_InsufficientBalanceIsRejection(t *testing.T) {
	quotes := quoteTable{"alpha|X": {Bid: 1, Ask: 1}}
	p := NewPaper(PaperConfig{BalanceUSD: 10}, quotes, testWallet(t), discard())

	res, err := p.Submit(t.Context(), domain.TradeLegRequest{Venue: "alpha", Instrument: "X", Side: domain.SideBuy, InputAmount: 11})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient balance", res.Error)
}

func TestPaperSigner_MissingQuote(t *testing.T) {
	p := NewPaper(PaperConfig{BalanceUSD: 10}, quoteTable{}, testWallet(t), discard())
	_, err := p.Submit(t.Context(), domain.TradeLegRequest{Venue: "alpha", Instrument: "X", Side: domain.SideBuy, InputAmount: 1})
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestPaperSigner_LatencyHonoursContext(t *testing.T) {
	quotes := quoteTable{"alpha|X": {Bid: 1, Ask: 1}}
	p := NewPaper(PaperConfig{BalanceUSD: 10, Latency: time.Hour}, quotes, testWallet(t), discard())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, domain.TradeLegRequest{Venue: "alpha", Instrument: "X", Side: domain.SideBuy, InputAmount: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelaySigner_Submit(t *testing.T) {
	w := testWallet(t)
	auth := crypto.HMACAuth{Key: "k", Secret: "s"}

	var got relayLegBody
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path != legsPath || !auth.Verify(r.Header.Get(crypto.HeaderTimestamp), r.Method, r.URL.Path, string(body), r.Header.Get(crypto.HeaderSignature)) {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		_ = json.NewEncoder(rw).Encode(domain.SubmitResult{Success: true, Signature: "0xtx", OutputAmount: 9.9, Fee: 0.1})
	}))
	defer srv.Close()

	r, err := NewRelay(RelayConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s"}, w, discard())
	require.NoError(t, err)

	req := domain.TradeLegRequest{OpportunityID: "o", Leg: 1, Venue: "alpha", Instrument: "X", Side: domain.SideBuy, InputAmount: 1000, Attempt: 1}
	res, err := r.Submit(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xtx", res.Signature)
	assert.InDelta(t, 9.9, res.OutputAmount, 1e-9)

	assert.Equal(t, req, got.Request)
	assert.Equal(t, w.Address(), got.Address)
	signer, err := w.RecoverSigner(req, got.Signature)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)
}

func TestRelaySigner_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		substr string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, want: domain.ErrRateLimited},
		{name: "unauthorized", status: http.StatusForbidden, want: domain.ErrUnauthorized},
		{name: "relay error body", status: http.StatusBadGateway, body: `{"error":"venue down"}`, substr: "venue down"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
				rw.WriteHeader(tc.status)
				_, _ = rw.Write([]byte(tc.body))
			}))
			defer srv.Close()

			r, err := NewRelay(RelayConfig{BaseURL: srv.URL}, testWallet(t), discard())
			require.NoError(t, err)
			_, err = r.Submit(t.Context(), domain.TradeLegRequest{Venue: "alpha", Side: domain.SideBuy})
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
			if tc.substr != "" {
				assert.Contains(t, err.Error(), tc.substr)
			}
		})
	}
}

func TestRelaySigner_Balance(t *testing.T) {
	w := testWallet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") != w.Address() {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = rw.Write([]byte(`{"balance_usd": 1234.5}`))
	}))
	defer srv.Close()

	r, err := NewRelay(RelayConfig{BaseURL: srv.URL}, w, discard())
	require.NoError(t, err)
	bal, err := r.Balance(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, bal, 1e-9)
}
