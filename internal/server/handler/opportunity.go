package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// OpportunityReader is the read side of the opportunity registry.
type OpportunityReader interface {
	Get(id string) (domain.ExecutableOpportunity, error)
	GetOpportunities() []domain.ExecutableOpportunity
	GetOpportunitiesByStatus(status domain.ExecStatus) []domain.ExecutableOpportunity
}

// OpportunityHandler serves registry entries, falling back to the
// persistent store for entries that have already been expired.
type OpportunityHandler struct {
	registry OpportunityReader
	store    domain.OpportunityStore
	logger   *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. store may be nil.
func NewOpportunityHandler(registry OpportunityReader, store domain.OpportunityStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{registry: registry, store: store, logger: logHandler(logger, "opportunities")}
}

// ListOpportunities returns live registry entries, newest first, optionally
// filtered by ?status=.
// GET /api/opportunities
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	var items []domain.ExecutableOpportunity
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.ExecStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status: "+s)
			return
		}
		items = h.registry.GetOpportunitiesByStatus(status)
	} else {
		items = h.registry.GetOpportunities()
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DetectedAt.After(items[j].DetectedAt)
	})
	writeJSON(w, http.StatusOK, page(items, parseListOpts(r)))
}

// GetOpportunity returns a single entry by id.
// GET /api/opportunities/{id}
func (h *OpportunityHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	opp, err := h.registry.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, opp)
		return
	}
	if h.store == nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	opp, err = h.store.GetByID(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

// ListHistory returns persisted entries within ?since= and ?until=
// (RFC 3339).
// GET /api/opportunities/history
func (h *OpportunityHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	opts := parseListOpts(r)
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+p.name+": "+v)
			return
		}
		*p.dst = &t
	}

	items, err := h.store.ListRecent(r.Context(), opts)
	if err != nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
