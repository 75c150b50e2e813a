// Package opportunity tracks detected opportunities through their execution
// lifecycle. The Registry is the single writer of opportunity status.
package opportunity

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

// DefaultRetention is how long entries are kept when Config.Retention is not
// set.
const DefaultRetention = 5 * time.Minute

// Config configures the Registry.
type Config struct {
	// Retention bounds how long an entry is kept after detection. Entries
	// that are executing are kept until they finish.
	Retention time.Duration
	// DedupWindow suppresses new entries for a pair key that was accepted
	// less than DedupWindow earlier. Zero disables it.
	DedupWindow time.Duration
}

// Registry deduplicates opportunities, tracks their status and publishes
// every change on an event bus. Events are published under the table lock,
// so subscribers see the changes of one entry in the order they happened.
// It is safe for concurrent use.
type Registry struct {
	cfg    Config
	events *bus.Bus[domain.OpportunityEvent]
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	entries   map[string]*domain.ExecutableOpportunity
	dedup     *pairDedup
	found     int64
	completed int64
	failed    int64
	expired   int64
}

// New creates a Registry. events may be nil when nobody listens.
func New(cfg Config, events *bus.Bus[domain.OpportunityEvent], logger *slog.Logger) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Registry{
		cfg:     cfg,
		events:  events,
		logger:  logger.With(slog.String("component", "opportunity_registry")),
		now:     time.Now,
		entries: make(map[string]*domain.ExecutableOpportunity),
		dedup:   newPairDedup(cfg.DedupWindow),
	}
}

// Ingest stores every opportunity whose id has not been seen before as
// pending and returns the newly created entries. Existing entries are never
// updated.
func (r *Registry) Ingest(opps []domain.Opportunity) []domain.ExecutableOpportunity {
	var created []domain.ExecutableOpportunity

	r.mu.Lock()
	for _, o := range opps {
		if o.ID == "" {
			o.ID = domain.OpportunityID(o.SourceVenue, o.TargetVenue, o.Instrument, o.Direction, o.DetectedAt)
		}
		if _, exists := r.entries[o.ID]; exists {
			continue
		}
		if !r.dedup.admit(o.PairKey(), o.DetectedAt) {
			continue
		}
		e := &domain.ExecutableOpportunity{Opportunity: o, Status: domain.StatusPending}
		r.entries[o.ID] = e
		r.found++
		created = append(created, clone(e))
	}

	at := r.now()
	for _, e := range created {
		r.publish(domain.OpportunityEvent{Type: domain.EventCreated, Opportunity: e, At: at})
	}
	r.mu.Unlock()
	return created
}

// Expire removes entries detected more than the retention window before now
// and returns them oldest first. Executing entries are kept.
func (r *Registry) Expire(now time.Time) []domain.ExecutableOpportunity {
	cutoff := now.Add(-r.cfg.Retention)

	var removed []domain.ExecutableOpportunity
	r.mu.Lock()
	for id, e := range r.entries {
		if e.Status == domain.StatusExecuting || !e.DetectedAt.Before(cutoff) {
			continue
		}
		removed = append(removed, clone(e))
		delete(r.entries, id)
	}
	r.expired += int64(len(removed))
	r.dedup.cleanup(now)

	sortByDetected(removed)
	for _, e := range removed {
		r.publish(domain.OpportunityEvent{Type: domain.EventExpired, Opportunity: e, At: now})
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		r.logger.Debug("expired opportunities", slog.Int("count", len(removed)))
	}
	return removed
}

// Transition moves id from one status to the next. It fails with
// ErrNotFound for unknown ids, ErrInvalidTransition for anything but a
// forward lifecycle step and ErrStatusConflict when the current status is
// not from.
func (r *Registry) Transition(id string, from, to domain.ExecStatus, f domain.TransitionFields) (domain.ExecutableOpportunity, error) {
	if !domain.CanTransition(from, to) {
		return domain.ExecutableOpportunity{}, fmt.Errorf("opportunity %s: %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	if f.At.IsZero() {
		f.At = r.now()
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return domain.ExecutableOpportunity{}, fmt.Errorf("opportunity %s: %w", id, domain.ErrNotFound)
	}
	if e.Status != from {
		cur := e.Status
		r.mu.Unlock()
		return domain.ExecutableOpportunity{}, fmt.Errorf("opportunity %s: expected %s, is %s: %w", id, from, cur, domain.ErrStatusConflict)
	}

	e.Status = to
	switch to {
	case domain.StatusExecuting:
		at := f.At
		e.ExecutionStartedAt = &at
	case domain.StatusCompleted, domain.StatusFailed:
		at := f.At
		e.CompletedAt = &at
		e.TxReference = f.TxReference
		e.Signatures = append([]string(nil), f.Signatures...)
		e.Fees = f.Fees
		e.ErrorReason = f.ErrorReason
		if to == domain.StatusCompleted {
			e.ActualProfit = copyFloat(f.ActualProfit)
			e.ActualProfitPct = copyFloat(f.ActualProfitPct)
			r.completed++
		} else {
			r.failed++
		}
	}
	out := clone(e)
	r.publish(domain.OpportunityEvent{Type: domain.EventTransitioned, From: from, Opportunity: out, At: f.At})
	r.mu.Unlock()
	return out, nil
}

// Get returns a copy of the entry with the given id.
func (r *Registry) Get(id string) (domain.ExecutableOpportunity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return domain.ExecutableOpportunity{}, fmt.Errorf("opportunity %s: %w", id, domain.ErrNotFound)
	}
	return clone(e), nil
}

// GetOpportunities returns every tracked entry, oldest first.
func (r *Registry) GetOpportunities() []domain.ExecutableOpportunity {
	return r.filter(func(*domain.ExecutableOpportunity) bool { return true })
}

// GetOpportunitiesByStatus returns the tracked entries in status, oldest
// first.
func (r *Registry) GetOpportunitiesByStatus(status domain.ExecStatus) []domain.ExecutableOpportunity {
	return r.filter(func(e *domain.ExecutableOpportunity) bool { return e.Status == status })
}

// Status returns aggregate counters. Completed, Failed and Expired are
// cumulative; Pending and Executing describe the current table.
func (r *Registry) Status() domain.RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := domain.RegistryStatus{
		OpportunitiesFound: r.found,
		Tracked:            len(r.entries),
		Completed:          r.completed,
		Failed:             r.failed,
		Expired:            r.expired,
	}
	for _, e := range r.entries {
		switch e.Status {
		case domain.StatusPending:
			st.Pending++
		case domain.StatusExecuting:
			st.Executing++
		}
	}
	return st
}

func (r *Registry) filter(keep func(*domain.ExecutableOpportunity) bool) []domain.ExecutableOpportunity {
	r.mu.RLock()
	out := make([]domain.ExecutableOpportunity, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, clone(e))
		}
	}
	r.mu.RUnlock()
	sortByDetected(out)
	return out
}

func (r *Registry) publish(ev domain.OpportunityEvent) {
	if r.events != nil {
		r.events.Publish(ev)
	}
}

func sortByDetected(es []domain.ExecutableOpportunity) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].DetectedAt.Equal(es[j].DetectedAt) {
			return es[i].DetectedAt.Before(es[j].DetectedAt)
		}
		return es[i].ID < es[j].ID
	})
}

// clone returns a copy that shares no mutable state with the stored entry.
func clone(e *domain.ExecutableOpportunity) domain.ExecutableOpportunity {
	out := *e
	if e.Signatures != nil {
		out.Signatures = append([]string(nil), e.Signatures...)
	}
	if e.ExecutionStartedAt != nil {
		t := *e.ExecutionStartedAt
		out.ExecutionStartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	out.ActualProfit = copyFloat(e.ActualProfit)
	out.ActualProfitPct = copyFloat(e.ActualProfitPct)
	return out
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
