package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// ExecutionHandler serves execution results.
type ExecutionHandler struct {
	store  domain.ExecutionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutionHandler creates an ExecutionHandler backed by store.
func NewExecutionHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logHandler(logger, "executions"), now: time.Now}
}

// ListExecutions returns the most recent results, newest first.
// GET /api/executions
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	items, err := h.store.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetExecution returns one result with its legs.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetProfit sums realized profit over ?window= (a Go duration, default 24h).
// GET /api/executions/profit
func (h *ExecutionHandler) GetProfit(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window: "+v)
			return
		}
		window = d
	}
	since := h.now().Add(-window)
	total, err := h.store.SumProfit(r.Context(), since)
	if err != nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since.UTC().Format(time.RFC3339),
		"profit": total,
	})
}
