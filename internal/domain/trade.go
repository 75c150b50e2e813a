package domain

import (
	"context"
	"time"
)

// LegSide is the side of a single trade leg.
type LegSide string

const (
	SideBuy  LegSide = "buy"
	SideSell LegSide = "sell"
)

// TradeLegRequest is the unsigned request handed to a Signer.
type TradeLegRequest struct {
	OpportunityID     string  `json:"opportunity_id"`
	Leg               int     `json:"leg"`
	Venue             string  `json:"venue"`
	Instrument        string  `json:"instrument"`
	Side              LegSide `json:"side"`
	InputAmount       float64 `json:"input_amount"`
	ExpectedOutput    float64 `json:"expected_output"`
	MinOutputAmount   float64 `json:"min_output_amount"`
	LimitPrice        float64 `json:"limit_price"`
	ConfirmationLevel string  `json:"confirmation_level"`
	Attempt           int     `json:"attempt"`
}

// SubmitResult is what a Signer returns for one submission.
type SubmitResult struct {
	Success          bool          `json:"success"`
	Signature        string        `json:"signature,omitempty"`
	OutputAmount     float64       `json:"output_amount,omitempty"`
	ConfirmationTime time.Duration `json:"confirmation_time_ns,omitempty"`
	Fee              float64       `json:"fee,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Signer turns a leg request into a submitted, confirmed result.
type Signer interface {
	Address() string
	Balance(ctx context.Context) (float64, error)
	Submit(ctx context.Context, req TradeLegRequest) (SubmitResult, error)
}

// TradeResult is produced once per submitted leg and never mutated.
type TradeResult struct {
	Leg              int           `json:"leg"`
	Venue            string        `json:"venue"`
	Instrument       string        `json:"instrument"`
	Side             LegSide       `json:"side"`
	InputAmount      float64       `json:"input_amount"`
	OutputAmount     float64       `json:"output_amount,omitempty"`
	MinOutputAmount  float64       `json:"min_output_amount"`
	Success          bool          `json:"success"`
	Signature        string        `json:"signature,omitempty"`
	Fee              float64       `json:"fee,omitempty"`
	Error            string        `json:"error,omitempty"`
	Attempts         int           `json:"attempts"`
	ConfirmationTime time.Duration `json:"confirmation_time_ns,omitempty"`
}

// ExecState is a step of the two-leg execution state machine.
type ExecState string

const (
	StatePreparing     ExecState = "preparing"
	StateLeg1Submitted ExecState = "leg1_submitted"
	StateLeg1Confirmed ExecState = "leg1_confirmed"
	StateLeg2Submitted ExecState = "leg2_submitted"
	StateLeg2Confirmed ExecState = "leg2_confirmed"
	StateFailed        ExecState = "failed"
)

// ExecutionResult summarises a finished execution.
type ExecutionResult struct {
	ID            string        `json:"id"`
	OpportunityID string        `json:"opportunity_id"`
	Instrument    string        `json:"instrument"`
	State         ExecState     `json:"state"`
	Legs          []TradeResult `json:"legs"`
	Profit        *float64      `json:"profit,omitempty"`
	ProfitPct     *float64      `json:"profit_pct,omitempty"`
	Fees          float64       `json:"fees"`
	ErrorReason   string        `json:"error_reason,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// Succeeded reports whether both legs confirmed.
func (r ExecutionResult) Succeeded() bool {
	return r.State == StateLeg2Confirmed
}

// Signatures returns the non-empty leg signatures in leg order.
func (r ExecutionResult) Signatures() []string {
	var out []string
	for _, l := range r.Legs {
		if l.Signature != "" {
			out = append(out, l.Signature)
		}
	}
	return out
}

// ExecutionEvent is published on every state change of an execution.
type ExecutionEvent struct {
	ExecutionID   string    `json:"execution_id"`
	OpportunityID string    `json:"opportunity_id"`
	State         ExecState `json:"state"`
	Leg           int       `json:"leg,omitempty"`
	At            time.Time `json:"at"`
}
