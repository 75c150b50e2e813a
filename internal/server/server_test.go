package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/executor"
	"github.com/alanyoungcy/venuearb/internal/opportunity"
	"github.com/alanyoungcy/venuearb/internal/ratelimit"
	"github.com/alanyoungcy/venuearb/internal/server/handler"
)

type emptySnapshot struct{}

func (emptySnapshot) Snapshot() domain.Snapshot { return domain.Snapshot{} }

func newTestServer(cfg Config) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := opportunity.New(opportunity.Config{}, nil, logger)
	h := Handlers{
		Health:        handler.NewHealthHandler(nil, logger),
		Status:        handler.NewStatusHandler(func() domain.BotStatus { return domain.BotStatus{Mode: "monitor"} }),
		Opportunities: handler.NewOpportunityHandler(reg, nil, logger),
		Snapshot:      handler.NewSnapshotHandler(emptySnapshot{}),
		Executions:    handler.NewExecutionHandler(executor.NewHistory(10), logger),
	}
	return NewServer(cfg, h, nil, ratelimit.NewLocal(), logger)
}

func get(s *Server, path string, header ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(Config{Port: 0})

	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/status", http.StatusOK},
		{"/api/opportunities", http.StatusOK},
		{"/api/opportunities/history", http.StatusServiceUnavailable},
		{"/api/opportunities/unknown", http.StatusNotFound},
		{"/api/snapshot", http.StatusOK},
		{"/api/executions", http.StatusOK},
		{"/api/executions/profit", http.StatusOK},
		{"/api/executions/unknown", http.StatusNotFound},
		{"/api/archives", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, get(s, tc.path).Code)
		})
	}
}

func TestServer_AuthLeavesHealthOpen(t *testing.T) {
	s := newTestServer(Config{APIKey: "k"})

	assert.Equal(t, http.StatusOK, get(s, "/api/health").Code)
	assert.Equal(t, http.StatusUnauthorized, get(s, "/api/status").Code)
	assert.Equal(t, http.StatusOK, get(s, "/api/status", "X-API-Key", "k").Code)
}

func TestServer_RateLimited(t *testing.T) {
	s := newTestServer(Config{RateLimit: 1, RateWindow: time.Minute})

	assert.Equal(t, http.StatusOK, get(s, "/api/status").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(s, "/api/status").Code)
}
