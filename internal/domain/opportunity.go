package domain

import (
	"fmt"
	"time"
)

// Direction identifies which side of a venue pair is bought.
type Direction string

const (
	// DirectionBuy buys on the source venue's ask and sells on the target's bid.
	DirectionBuy Direction = "buy"
	// DirectionSell sells on the source venue's bid and buys on the target's ask.
	DirectionSell Direction = "sell"
)

// Opportunity is a profitable cross-venue price discrepancy.
type Opportunity struct {
	ID              string    `json:"id"`
	SourceVenue     string    `json:"source_venue"`
	TargetVenue     string    `json:"target_venue"`
	Instrument      string    `json:"instrument"`
	Direction       Direction `json:"direction"`
	SourcePrice     float64   `json:"source_price"`
	TargetPrice     float64   `json:"target_price"`
	ProfitPct       float64   `json:"profit_percentage"`
	EstimatedProfit float64   `json:"estimated_profit"`
	TradeSize       float64   `json:"trade_size"`
	NotionalUSD     float64   `json:"notional_usd"`
	DetectedAt      time.Time `json:"detected_at"`
}

// OpportunityID builds the deterministic identity of an opportunity. The
// detection time is part of the key, so repeated detections in different
// cycles yield different ids.
func OpportunityID(source, target, instrument string, dir Direction, detectedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", source, target, instrument, dir, detectedAt.UnixMilli())
}

// PairKey identifies the venue pair, instrument and direction without the
// detection time.
func (o Opportunity) PairKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", o.SourceVenue, o.TargetVenue, o.Instrument, o.Direction)
}

// EntryVenue is where leg 1 buys.
func (o Opportunity) EntryVenue() string {
	if o.Direction == DirectionSell {
		return o.TargetVenue
	}
	return o.SourceVenue
}

// ExitVenue is where leg 2 sells.
func (o Opportunity) ExitVenue() string {
	if o.Direction == DirectionSell {
		return o.SourceVenue
	}
	return o.TargetVenue
}

// EntryPrice is the ask paid on the entry venue.
func (o Opportunity) EntryPrice() float64 {
	if o.Direction == DirectionSell {
		return o.TargetPrice
	}
	return o.SourcePrice
}

// ExitPrice is the bid received on the exit venue.
func (o Opportunity) ExitPrice() float64 {
	if o.Direction == DirectionSell {
		return o.SourcePrice
	}
	return o.TargetPrice
}

// ExecStatus is the lifecycle state of a registry entry.
type ExecStatus string

const (
	StatusPending   ExecStatus = "pending"
	StatusExecuting ExecStatus = "executing"
	StatusCompleted ExecStatus = "completed"
	StatusFailed    ExecStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ExecStatus) Valid() bool {
	switch s {
	case StatusPending, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ExecStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a forward lifecycle step.
func CanTransition(from, to ExecStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusExecuting
	case StatusExecuting:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// ExecutableOpportunity is an Opportunity tracked through execution.
type ExecutableOpportunity struct {
	Opportunity
	Status             ExecStatus `json:"status"`
	ExecutionStartedAt *time.Time `json:"execution_started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	TxReference        string     `json:"tx_reference,omitempty"`
	Signatures         []string   `json:"signatures,omitempty"`
	Fees               float64    `json:"fees,omitempty"`
	ActualProfit       *float64   `json:"actual_profit,omitempty"`
	ActualProfitPct    *float64   `json:"actual_profit_pct,omitempty"`
	ErrorReason        string     `json:"error_reason,omitempty"`
}

// TransitionFields carries the detail attached to a status transition.
type TransitionFields struct {
	At              time.Time
	TxReference     string
	Signatures      []string
	Fees            float64
	ActualProfit    *float64
	ActualProfitPct *float64
	ErrorReason     string
}

// RegistryStatus holds aggregate registry counters.
type RegistryStatus struct {
	OpportunitiesFound int64 `json:"opportunities_found"`
	Tracked            int   `json:"tracked"`
	Pending            int   `json:"pending"`
	Executing          int   `json:"executing"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
	Expired            int64 `json:"expired"`
}

// SchedulerStats holds the admission counters.
type SchedulerStats struct {
	Running             bool `json:"running"`
	ActiveExecutions    int  `json:"active_executions"`
	MaxConcurrentTrades int  `json:"max_concurrent_trades"`
	DailyTrades         int  `json:"daily_trades"`
	MaxDailyTrades      int  `json:"max_daily_trades"`
}

// BotStatus is the combined status reported by the query surface.
type BotStatus struct {
	Mode      string         `json:"mode"`
	Registry  RegistryStatus `json:"registry"`
	Scheduler SchedulerStats `json:"scheduler"`
	Venues    []string       `json:"venues"`
	Uptime    time.Duration  `json:"uptime_ns"`
}

// OpportunityEventType classifies registry notifications.
type OpportunityEventType string

const (
	EventCreated      OpportunityEventType = "created"
	EventTransitioned OpportunityEventType = "transitioned"
	EventExpired      OpportunityEventType = "expired"
)

// OpportunityEvent is published by the registry on every change.
type OpportunityEvent struct {
	Type        OpportunityEventType  `json:"type"`
	From        ExecStatus            `json:"from,omitempty"`
	Opportunity ExecutableOpportunity `json:"opportunity"`
	At          time.Time             `json:"at"`
}
