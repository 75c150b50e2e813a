package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore. Rows are inserted
// when the registry admits an entry and updated on every transition.
type OpportunityStore struct {
	db DB
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates an OpportunityStore.
func NewOpportunityStore(db DB) *OpportunityStore {
	return &OpportunityStore{db: db}
}

const opportunityCols = `id, source_venue, target_venue, instrument, direction,
	source_price, target_price, profit_pct, estimated_profit, trade_size, notional_usd,
	detected_at, status, execution_started_at, completed_at, tx_reference, signatures,
	fees, actual_profit, actual_profit_pct, error_reason`

// Insert stores a new entry. Re-inserting an existing id is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, e domain.ExecutableOpportunity) error {
	const query = `
		INSERT INTO opportunities (` + opportunityCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.SourceVenue, e.TargetVenue, e.Instrument, string(e.Direction),
		e.SourcePrice, e.TargetPrice, e.ProfitPct, e.EstimatedProfit, e.TradeSize, e.NotionalUSD,
		e.DetectedAt, string(e.Status), e.ExecutionStartedAt, e.CompletedAt, e.TxReference, signatures(e.Signatures),
		e.Fees, e.ActualProfit, e.ActualProfitPct, e.ErrorReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", e.ID, err)
	}
	return nil
}

// UpdateStatus writes the lifecycle fields of e.
func (s *OpportunityStore) UpdateStatus(ctx context.Context, e domain.ExecutableOpportunity) error {
	const query = `
		UPDATE opportunities SET
			status               = $2,
			execution_started_at = $3,
			completed_at         = $4,
			tx_reference         = $5,
			signatures           = $6,
			fees                 = $7,
			actual_profit        = $8,
			actual_profit_pct    = $9,
			error_reason         = $10,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		e.ID, string(e.Status), e.ExecutionStartedAt, e.CompletedAt, e.TxReference,
		signatures(e.Signatures), e.Fees, e.ActualProfit, e.ActualProfitPct, e.ErrorReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: update opportunity %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update opportunity %s: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a stored entry or domain.ErrNotFound.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.ExecutableOpportunity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+opportunityCols+` FROM opportunities WHERE id = $1`, id)
	e, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutableOpportunity{}, fmt.Errorf("postgres: opportunity %s: %w", id, domain.ErrNotFound)
		}
		return domain.ExecutableOpportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return e, nil
}

// ListRecent returns entries newest first, filtered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutableOpportunity, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND detected_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY detected_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutableOpportunity
	for rows.Next() {
		e, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return out, nil
}

func scanOpportunity(row pgx.Row) (domain.ExecutableOpportunity, error) {
	var e domain.ExecutableOpportunity
	var direction, status string
	err := row.Scan(
		&e.ID, &e.SourceVenue, &e.TargetVenue, &e.Instrument, &direction,
		&e.SourcePrice, &e.TargetPrice, &e.ProfitPct, &e.EstimatedProfit, &e.TradeSize, &e.NotionalUSD,
		&e.DetectedAt, &status, &e.ExecutionStartedAt, &e.CompletedAt, &e.TxReference, &e.Signatures,
		&e.Fees, &e.ActualProfit, &e.ActualProfitPct, &e.ErrorReason,
	)
	if err != nil {
		return domain.ExecutableOpportunity{}, err
	}
	e.Direction = domain.Direction(direction)
	e.Status = domain.ExecStatus(status)
	return e, nil
}

// signatures keeps NOT NULL text[] columns from receiving a nil slice.
func signatures(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
