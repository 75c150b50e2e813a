package venue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRegistry_BuildsKnownKinds(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{KindHTTP, KindKalshi, KindOKX, KindStatic}, r.Kinds())

	src, err := r.Build(Config{Name: "paper", Kind: KindStatic, Quotes: map[string]StaticQuote{"X": {Bid: 1, Ask: 2}}}, discard())
	require.NoError(t, err)
	assert.Equal(t, "paper", src.Name())

	_, err = r.Build(Config{Name: "mystery", Kind: "carrier-pigeon"}, discard())
	assert.ErrorContains(t, err, "unknown kind")
}

func TestRegistry_BuildAllRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	cfg := Config{Name: "a", Kind: KindStatic, Quotes: map[string]StaticQuote{"X": {Bid: 1, Ask: 2}}}
	_, err := r.BuildAll([]Config{cfg, cfg}, discard())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRegistry_CustomBuilder(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(cfg Config, _ *slog.Logger) (domain.QuoteSource, error) {
		return NewStatic(Config{Name: cfg.Name, Quotes: map[string]StaticQuote{"Y": {Bid: 3, Ask: 4}}}, nil)
	})
	src, err := r.Build(Config{Name: "c", Kind: "custom"}, discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, src.ListSupportedInstruments())
}

func TestStatic(t *testing.T) {
	src, err := NewStatic(Config{Name: "s", Quotes: map[string]StaticQuote{
		"B": {Bid: 10, Ask: 11},
		"A": {Bid: 1, Ask: 2, Last: 1.5},
	}}, nil)
	require.NoError(t, err)
	require.NoError(t, src.Initialize(t.Context()))
	assert.Equal(t, []string{"A", "B"}, src.ListSupportedInstruments())

	p, err := src.GetPrice(t.Context(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.Last)
	assert.False(t, p.Timestamp.IsZero())

	_, err = src.GetPrice(t.Context(), "C")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	src.(*Static).Set("A", StaticQuote{Bid: 5, Ask: 6})
	p, err = src.GetPrice(t.Context(), "A")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Bid)

	_, err = NewStatic(Config{Name: "empty"}, nil)
	assert.Error(t, err)
}

func TestHTTPQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/instruments":
			_ = json.NewEncoder(w).Encode(map[string]any{"instruments": []string{"BTC/USD", "ETH/USD"}})
		case "/quotes/BTC-USD":
			_, _ = io.WriteString(w, `{"bid":100.5,"ask":101,"last":100.7,"ts":1767225600000}`)
		case "/quotes/ETH-USD":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src, err := NewHTTPQuote(Config{
		Name:    "rest",
		BaseURL: srv.URL + "/",
		APIKey:  "secret",
		Symbols: map[string]string{"BTC/USD": "BTC-USD", "ETH/USD": "ETH-USD"},
	}, discard())
	require.NoError(t, err)
	require.NoError(t, src.Initialize(t.Context()))
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, src.ListSupportedInstruments())

	p, err := src.GetPrice(t.Context(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 100.5, p.Bid)
	assert.Equal(t, 101.0, p.Ask)
	assert.Equal(t, time.UnixMilli(1767225600000), p.Timestamp)

	_, err = src.GetPrice(t.Context(), "ETH/USD")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = src.GetPrice(t.Context(), "DOGE/USD")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestHTTPQuote_InitializeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := NewHTTPQuote(Config{Name: "rest", BaseURL: srv.URL}, discard())
	require.NoError(t, err)
	assert.ErrorIs(t, src.Initialize(t.Context()), domain.ErrSourceUnavailable)
}

func TestKalshi_TopOfBookFromOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/orderbook"):
			assert.Equal(t, "/trade-api/v2/markets/FED-25DEC/orderbook", r.URL.Path)
			_, _ = io.WriteString(w, `{"orderbook":{"yes":[[40,10],[42,5]],"no":[[55,7],[50,1]]}}`)
		case r.URL.Path == "/trade-api/v2/markets/FED-25DEC":
			_, _ = io.WriteString(w, `{"market":{"ticker":"FED-25DEC","status":"open"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":"not_found","message":"market not found"}}`)
		}
	}))
	defer srv.Close()

	src, err := NewKalshi(Config{
		Name:        "kalshi",
		BaseURL:     srv.URL + "/trade-api/v2",
		Instruments: []string{"FED-DEC"},
		Symbols:     map[string]string{"FED-DEC": "FED-25DEC"},
	}, discard())
	require.NoError(t, err)
	require.NoError(t, src.Initialize(t.Context()))

	p, err := src.GetPrice(t.Context(), "FED-DEC")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, p.Bid, 1e-9)
	assert.InDelta(t, 0.45, p.Ask, 1e-9)
}

func TestKalshi_UnknownMarketFailsInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src, err := NewKalshi(Config{Name: "k", BaseURL: srv.URL, Instruments: []string{"NOPE"}}, discard())
	require.NoError(t, err)
	assert.ErrorIs(t, src.Initialize(t.Context()), domain.ErrNotFound)
}

func TestOKX_StreamsTickers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd struct {
			Op   string `json:"op"`
			Args []struct {
				Channel string `json:"channel"`
				InstID  string `json:"instId"`
			} `json:"args"`
		}
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		for _, a := range cmd.Args {
			_ = conn.WriteJSON(map[string]any{
				"arg": map[string]string{"channel": "tickers", "instId": a.InstID},
				"data": []map[string]string{{
					"instId": a.InstID, "last": "64000.1", "bidPx": "64000", "askPx": "64000.5", "ts": "1767225600000",
				}},
			})
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src, err := NewOKX(Config{
		Name:        "okx",
		WSURL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Instruments: []string{"BTC/USDT"},
		Symbols:     map[string]string{"BTC/USDT": "BTC-USDT"},
	}, discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, src.Initialize(ctx))
	defer src.(*OKX).Close()

	assert.Eventually(t, func() bool {
		_, err := src.GetPrice(ctx, "BTC/USDT")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	p, err := src.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 64000.0, p.Bid)
	assert.Equal(t, 64000.5, p.Ask)
	assert.Equal(t, time.UnixMilli(1767225600000), p.Timestamp)
}
