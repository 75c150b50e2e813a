package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/venuearb/internal/bus"
	"github.com/alanyoungcy/venuearb/internal/domain"
)

// ExecutionNotifier sends trade alerts.
type ExecutionNotifier interface {
	NotifyExecution(ctx context.Context, res domain.ExecutionResult) error
}

// RecorderDeps groups the sinks the Recorder writes to. Any of them may be
// nil.
type RecorderDeps struct {
	Opportunities domain.OpportunityStore
	Executions    domain.ExecutionStore
	Audit         domain.AuditStore
	Signal        domain.SignalBus
	Notifier      ExecutionNotifier
}

// Recorder persists registry events and execution results, forwards them
// to the signal bus and raises alerts for finished trades. Sink failures are
// logged; they never reach the pipeline.
type Recorder struct {
	deps   RecorderDeps
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(deps RecorderDeps, logger *slog.Logger) *Recorder {
	return &Recorder{deps: deps, logger: logger.With(slog.String("component", "recorder"))}
}

// Run subscribes to the pipeline buses and blocks until ctx is cancelled.
// Any bus may be nil. The subscriptions are detached from ctx: they keep
// draining until each bus is closed, so outcomes published during shutdown
// are still recorded.
func (r *Recorder) Run(
	ctx context.Context,
	opps *bus.Bus[domain.OpportunityEvent],
	results *bus.Bus[domain.ExecutionResult],
	states *bus.Bus[domain.ExecutionEvent],
) error {
	subCtx := context.WithoutCancel(ctx)
	if opps != nil {
		if err := opps.Subscribe(subCtx, "recorder", 256, r.HandleOpportunityEvent); err != nil {
			return fmt.Errorf("recorder: subscribe opportunities: %w", err)
		}
	}
	if results != nil {
		if err := results.Subscribe(subCtx, "recorder", bus.DefaultBuffer, r.HandleExecution); err != nil {
			return fmt.Errorf("recorder: subscribe executions: %w", err)
		}
	}
	if states != nil {
		if err := states.Subscribe(subCtx, "recorder", 256, r.HandleExecutionEvent); err != nil {
			return fmt.Errorf("recorder: subscribe execution states: %w", err)
		}
	}
	<-ctx.Done()
	return nil
}

// HandleOpportunityEvent mirrors one registry change.
func (r *Recorder) HandleOpportunityEvent(ctx context.Context, ev domain.OpportunityEvent) error {
	e := ev.Opportunity
	if store := r.deps.Opportunities; store != nil {
		var err error
		switch ev.Type {
		case domain.EventCreated:
			err = store.Insert(ctx, e)
		case domain.EventTransitioned:
			err = store.UpdateStatus(ctx, e)
		}
		if err != nil {
			r.warn(ctx, "persist opportunity failed", e.ID, err)
		}
	}

	if r.deps.Audit != nil && ev.Type != domain.EventCreated {
		detail := map[string]any{
			"id":     e.ID,
			"from":   string(ev.From),
			"status": string(e.Status),
		}
		if e.ErrorReason != "" {
			detail["error"] = e.ErrorReason
		}
		if err := r.deps.Audit.Log(ctx, "opportunity."+string(ev.Type), detail); err != nil {
			r.warn(ctx, "audit opportunity failed", e.ID, err)
		}
	}

	r.publish(ctx, domain.ChannelOpportunity, e.ID, ev)
	return nil
}

// HandleExecution persists res, appends it to the execution stream and
// notifies.
func (r *Recorder) HandleExecution(ctx context.Context, res domain.ExecutionResult) error {
	if r.deps.Executions != nil {
		if err := r.deps.Executions.Create(ctx, res); err != nil {
			r.warn(ctx, "persist execution failed", res.OpportunityID, err)
		}
	}
	if r.deps.Audit != nil {
		detail := map[string]any{
			"execution_id": res.ID,
			"state":        string(res.State),
			"fees":         res.Fees,
		}
		if res.Profit != nil {
			detail["profit"] = *res.Profit
		}
		if err := r.deps.Audit.Log(ctx, "execution.finished", detail); err != nil {
			r.warn(ctx, "audit execution failed", res.OpportunityID, err)
		}
	}

	r.publish(ctx, domain.ChannelExecution, res.OpportunityID, res)
	if r.deps.Signal != nil {
		if payload, err := json.Marshal(res); err == nil {
			if err := r.deps.Signal.StreamAppend(ctx, domain.StreamExecutions, payload); err != nil {
				r.warn(ctx, "append execution stream failed", res.OpportunityID, err)
			}
		}
	}

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyExecution(ctx, res); err != nil {
			r.warn(ctx, "notify execution failed", res.OpportunityID, err)
		}
	}
	return nil
}

// HandleExecutionEvent forwards one state change of a running execution.
func (r *Recorder) HandleExecutionEvent(ctx context.Context, ev domain.ExecutionEvent) error {
	r.publish(ctx, domain.ChannelExecutionState, ev.OpportunityID, ev)
	return nil
}

func (r *Recorder) publish(ctx context.Context, channel, id string, v any) {
	if r.deps.Signal == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		r.warn(ctx, "marshal event failed", id, err)
		return
	}
	if err := r.deps.Signal.Publish(ctx, channel, payload); err != nil {
		r.warn(ctx, "publish "+channel+" failed", id, err)
	}
}

func (r *Recorder) warn(ctx context.Context, msg, id string, err error) {
	r.logger.WarnContext(ctx, msg,
		slog.String("opportunity_id", id),
		slog.String("error", err.Error()),
	)
}
