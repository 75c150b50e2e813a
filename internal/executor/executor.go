// Package executor runs two-leg arbitrage trades and dispatches admitted
// opportunities to them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Params controls how legs are submitted.
type Params struct {
	SlippageTolerance float64
	MaxRetries        int
	RetryBackoff      time.Duration
	ConfirmTimeout    time.Duration
	ConfirmationLevel string

	// SubmitRateLimit caps submissions per venue within SubmitRateWindow when
	// a RateLimiter is configured. Zero disables throttling.
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// DefaultParams returns the default submission parameters.
func DefaultParams() Params {
	return Params{
		SlippageTolerance: 0.005,
		MaxRetries:        3,
		RetryBackoff:      time.Second,
		ConfirmTimeout:    30 * time.Second,
		ConfirmationLevel: "confirmed",
		SubmitRateWindow:  time.Second,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = d.RetryBackoff
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = d.ConfirmTimeout
	}
	if p.ConfirmationLevel == "" {
		p.ConfirmationLevel = d.ConfirmationLevel
	}
	if p.SubmitRateWindow <= 0 {
		p.SubmitRateWindow = d.SubmitRateWindow
	}
	return p
}

// WorstCase is the longest an execution can take: both legs exhausting
// every attempt at the confirmation timeout plus the backoff between them.
func (p Params) WorstCase() time.Duration {
	p = p.withDefaults()
	perLeg := time.Duration(p.MaxRetries) * p.ConfirmTimeout
	for attempt := 1; attempt < p.MaxRetries; attempt++ {
		perLeg += p.RetryBackoff * time.Duration(attempt)
	}
	return 2 * perLeg
}

// Executor submits the two legs of an opportunity through a Signer. Leg 2
// is only submitted once leg 1 has confirmed with a realized output.
type Executor struct {
	signer  domain.Signer
	limiter domain.RateLimiter
	events  *bus.Bus[domain.ExecutionEvent]
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New creates an Executor. limiter and events may be nil.
func New(signer domain.Signer, limiter domain.RateLimiter, events *bus.Bus[domain.ExecutionEvent], logger *slog.Logger) *Executor {
	return &Executor{
		signer:  signer,
		limiter: limiter,
		events:  events,
		logger:  logger.With(slog.String("component", "executor")),
		now:     time.Now,
		sleep:   sleepCtx,
		newID:   func() string { return uuid.New().String() },
	}
}

// legPlan is the computed request for one leg before submission.
type legPlan struct {
	leg        int
	venue      string
	side       domain.LegSide
	input      decimal.Decimal
	expected   decimal.Decimal
	minOut     decimal.Decimal
	limitPrice float64
}

// Execute runs both legs of opp and returns the outcome. It never returns an
// error: failures are reported in the result's State and ErrorReason.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity, p Params) domain.ExecutionResult {
	p = p.withDefaults()
	res := domain.ExecutionResult{
		ID:            e.newID(),
		OpportunityID: opp.ID,
		Instrument:    opp.Instrument,
		StartedAt:     e.now(),
	}
	log := e.logger.With(
		slog.String("execution_id", res.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("instrument", opp.Instrument),
	)
	e.setState(&res, domain.StatePreparing, 0)

	slip := decimal.NewFromFloat(1).Sub(decimal.NewFromFloat(p.SlippageTolerance))
	entry := decimal.NewFromFloat(opp.EntryPrice())
	if !entry.IsPositive() || opp.NotionalUSD <= 0 {
		return e.fail(ctx, log, &res, fmt.Errorf("executor: invalid opportunity: entry price %v, notional %v", opp.EntryPrice(), opp.NotionalUSD))
	}

	input1 := decimal.NewFromFloat(opp.NotionalUSD)
	expected1 := input1.Div(entry)
	leg1 := legPlan{
		leg:        1,
		venue:      opp.EntryVenue(),
		side:       domain.SideBuy,
		input:      input1,
		expected:   expected1,
		minOut:     expected1.Mul(slip),
		limitPrice: opp.EntryPrice(),
	}

	r1, err := e.runLeg(ctx, log, &res, opp, leg1, p)
	res.Legs = append(res.Legs, r1)
	if err != nil {
		return e.fail(ctx, log, &res, err)
	}
	e.setState(&res, domain.StateLeg1Confirmed, 1)

	input2 := decimal.NewFromFloat(r1.OutputAmount)
	expected2 := input2.Mul(decimal.NewFromFloat(opp.ExitPrice()))
	leg2 := legPlan{
		leg:        2,
		venue:      opp.ExitVenue(),
		side:       domain.SideSell,
		input:      input2,
		expected:   expected2,
		minOut:     expected2.Mul(slip),
		limitPrice: opp.ExitPrice(),
	}

	r2, err := e.runLeg(ctx, log, &res, opp, leg2, p)
	res.Legs = append(res.Legs, r2)
	if err != nil {
		return e.fail(ctx, log, &res, err)
	}

	profit := decimal.NewFromFloat(r2.OutputAmount).Sub(input1)
	profitF := profit.InexactFloat64()
	pctF := profit.Div(input1).Mul(decimal.NewFromInt(100)).InexactFloat64()
	res.Profit = &profitF
	res.ProfitPct = &pctF
	res.Fees = r1.Fee + r2.Fee
	res.CompletedAt = e.now()
	e.setState(&res, domain.StateLeg2Confirmed, 2)

	log.InfoContext(ctx, "execution completed",
		slog.Float64("profit", profitF),
		slog.Float64("profit_pct", pctF),
		slog.Float64("fees", res.Fees),
	)
	return res
}

// runLeg submits one leg with retries and checks the realized output against
// the minimum. A confirmed leg is never resubmitted.
func (e *Executor) runLeg(ctx context.Context, log *slog.Logger, res *domain.ExecutionResult, opp domain.Opportunity, plan legPlan, p Params) (domain.TradeResult, error) {
	tr := domain.TradeResult{
		Leg:             plan.leg,
		Venue:           plan.venue,
		Instrument:      opp.Instrument,
		Side:            plan.side,
		InputAmount:     plan.input.InexactFloat64(),
		MinOutputAmount: plan.minOut.InexactFloat64(),
	}
	state := domain.StateLeg1Submitted
	if plan.leg == 2 {
		state = domain.StateLeg2Submitted
	}
	e.setState(res, state, plan.leg)

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		tr.Attempts = attempt
		req := domain.TradeLegRequest{
			OpportunityID:     opp.ID,
			Leg:               plan.leg,
			Venue:             plan.venue,
			Instrument:        opp.Instrument,
			Side:              plan.side,
			InputAmount:       tr.InputAmount,
			ExpectedOutput:    plan.expected.InexactFloat64(),
			MinOutputAmount:   tr.MinOutputAmount,
			LimitPrice:        plan.limitPrice,
			ConfirmationLevel: p.ConfirmationLevel,
			Attempt:           attempt,
		}

		sr, err := e.submit(ctx, req, p)
		if err == nil {
			tr.Signature = sr.Signature
			tr.Fee = sr.Fee
			tr.ConfirmationTime = sr.ConfirmationTime
			tr.OutputAmount = sr.OutputAmount
			return e.checkOutput(tr, plan)
		}

		lastErr = err
		log.WarnContext(ctx, "leg submission attempt failed",
			slog.Int("leg", plan.leg),
			slog.String("venue", plan.venue),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.MaxRetries),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil || attempt == p.MaxRetries {
			break
		}
		if err := e.sleep(ctx, p.RetryBackoff*time.Duration(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	legErr := &domain.LegError{Leg: plan.leg, Venue: plan.venue, Attempts: tr.Attempts, Err: lastErr}
	tr.Error = legErr.Error()
	return tr, legErr
}

// submit makes one bounded attempt. A deadline hit on the attempt is
// reported as domain.ErrConfirmationTimeout.
func (e *Executor) submit(ctx context.Context, req domain.TradeLegRequest, p Params) (domain.SubmitResult, error) {
	if e.limiter != nil && p.SubmitRateLimit > 0 {
		if err := e.limiter.Wait(ctx, "submit:"+req.Venue, p.SubmitRateLimit, p.SubmitRateWindow); err != nil {
			return domain.SubmitResult{}, fmt.Errorf("executor: rate limit %s: %w", req.Venue, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.ConfirmTimeout)
	defer cancel()

	sr, err := e.signer.Submit(attemptCtx, req)
	if err == nil && !sr.Success {
		msg := sr.Error
		if msg == "" {
			msg = "rejected"
		}
		err = errors.New(msg)
	}
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return sr, fmt.Errorf("executor: submit after %s: %w", p.ConfirmTimeout, domain.ErrConfirmationTimeout)
		}
		return sr, fmt.Errorf("executor: submit: %w", err)
	}
	return sr, nil
}

func (e *Executor) checkOutput(tr domain.TradeResult, plan legPlan) (domain.TradeResult, error) {
	var cause error
	switch out := decimal.NewFromFloat(tr.OutputAmount); {
	case !out.IsPositive():
		cause = errors.New("realized output unavailable")
	case out.LessThan(plan.minOut):
		cause = fmt.Errorf("realized output %s below minimum %s", out.String(), plan.minOut.String())
	}
	if cause != nil {
		legErr := &domain.LegError{Leg: plan.leg, Venue: plan.venue, Attempts: tr.Attempts, Err: cause}
		tr.Error = legErr.Error()
		return tr, legErr
	}
	tr.Success = true
	return tr, nil
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, res *domain.ExecutionResult, err error) domain.ExecutionResult {
	res.ErrorReason = err.Error()
	for _, l := range res.Legs {
		res.Fees += l.Fee
	}
	res.CompletedAt = e.now()
	e.setState(res, domain.StateFailed, len(res.Legs))
	log.ErrorContext(ctx, "execution failed",
		slog.Int("legs_attempted", len(res.Legs)),
		slog.String("error", err.Error()),
	)
	return *res
}

func (e *Executor) setState(res *domain.ExecutionResult, state domain.ExecState, leg int) {
	res.State = state
	if e.events == nil {
		return
	}
	e.events.Publish(domain.ExecutionEvent{
		ExecutionID:   res.ID,
		OpportunityID: res.OpportunityID,
		State:         state,
		Leg:           leg,
		At:            e.now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
