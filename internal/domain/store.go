package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpportunityStore persists registry entries and their status history.
type OpportunityStore interface {
	Insert(ctx context.Context, opp ExecutableOpportunity) error
	UpdateStatus(ctx context.Context, opp ExecutableOpportunity) error
	GetByID(ctx context.Context, id string) (ExecutableOpportunity, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutableOpportunity, error)
}

// ExecutionStore persists execution results with their legs.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	GetByID(ctx context.Context, id string) (ExecutionResult, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// AuditEntry is a single row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore is an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
