package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore: one executions row per
// result plus one execution_legs row per submitted leg.
type ExecutionStore struct {
	db DB
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(db DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionCols = `id, opportunity_id, instrument, state, profit, profit_pct, fees, error_reason, started_at, completed_at`

// Create inserts res and its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (`+executionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.ID, res.OpportunityID, res.Instrument, string(res.State), res.Profit, res.ProfitPct,
		res.Fees, res.ErrorReason, res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}

	for _, leg := range res.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, leg, venue, instrument, side, input_amount, output_amount, min_output_amount, success, signature, fee, error, attempts, confirmation_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			res.ID, leg.Leg, leg.Venue, leg.Instrument, string(leg.Side), leg.InputAmount, leg.OutputAmount,
			leg.MinOutputAmount, leg.Success, leg.Signature, leg.Fee, leg.Error, leg.Attempts,
			leg.ConfirmationTime.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg %s/%d: %w", res.ID, leg.Leg, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit execution %s: %w", res.ID, err)
	}
	return nil
}

// GetByID returns an execution with its legs.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	res, err := scanExecution(s.db.QueryRow(ctx, `SELECT `+executionCols+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: execution %s: %w", id, domain.ErrNotFound)
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT leg, venue, instrument, side, input_amount, output_amount, min_output_amount, success, signature, fee, error, attempts, confirmation_ms
		FROM execution_legs WHERE execution_id = $1 ORDER BY leg`, id)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution legs %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var leg domain.TradeResult
		var side string
		var confirmMs int64
		if err := rows.Scan(&leg.Leg, &leg.Venue, &leg.Instrument, &side, &leg.InputAmount, &leg.OutputAmount,
			&leg.MinOutputAmount, &leg.Success, &leg.Signature, &leg.Fee, &leg.Error, &leg.Attempts, &confirmMs); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: scan execution leg: %w", err)
		}
		leg.Side = domain.LegSide(side)
		leg.ConfirmationTime = time.Duration(confirmMs) * time.Millisecond
		res.Legs = append(res.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: execution legs rows: %w", err)
	}
	return res, nil
}

// ListRecent returns the most recent executions without their legs.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+executionCols+` FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// SumProfit returns the realized profit of executions completed since.
func (s *ExecutionStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(profit), 0) FROM executions WHERE profit IS NOT NULL AND completed_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum execution profit: %w", err)
	}
	return sum, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	var state string
	if err := row.Scan(&res.ID, &res.OpportunityID, &res.Instrument, &state, &res.Profit, &res.ProfitPct,
		&res.Fees, &res.ErrorReason, &res.StartedAt, &res.CompletedAt); err != nil {
		return domain.ExecutionResult{}, err
	}
	res.State = domain.ExecState(state)
	return res, nil
}
