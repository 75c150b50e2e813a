package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// History keeps the most recent execution results in memory. It backs the
// query surface when no database is configured.
type History struct {
	mu    sync.RWMutex
	size  int
	items []domain.ExecutionResult // oldest first
}

var _ domain.ExecutionStore = (*History)(nil)

// NewHistory creates a History that retains up to capacity results.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 500
	}
	return &History{size: capacity}
}

// Create appends res, evicting the oldest result when full.
func (h *History) Create(_ context.Context, res domain.ExecutionResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == h.size {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, res)
	return nil
}

// GetByID returns the result with the given execution id.
func (h *History) GetByID(_ context.Context, id string) (domain.ExecutionResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.items) - 1; i >= 0; i-- {
		if h.items[i].ID == id {
			return h.items[i], nil
		}
	}
	return domain.ExecutionResult{}, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
}

// ListRecent returns up to limit results, newest first.
func (h *History) ListRecent(_ context.Context, limit int) ([]domain.ExecutionResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.items) {
		limit = len(h.items)
	}
	out := make([]domain.ExecutionResult, 0, limit)
	for i := len(h.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.items[i])
	}
	return out, nil
}

// SumProfit adds the profit of every successful result completed at or
// after since.
func (h *History) SumProfit(_ context.Context, since time.Time) (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var total float64
	for _, r := range h.items {
		if r.Profit != nil && !r.CompletedAt.Before(since) {
			total += *r.Profit
		}
	}
	return total, nil
}
