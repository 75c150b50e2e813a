// Package notify sends trade alerts to chat channels. Each alert carries an
// event type and operators choose which types reach them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Event types.
const (
	EventTradeCompleted = "trade.completed"
	EventTradeFailed    = "trade.failed"
	EventBotStarted     = "bot.started"
	EventBotStopped     = "bot.stopped"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every Sender whose event filter
// allows it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify delivers to all senders when event passes the filter. A failing
// sender does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// NotifyExecution formats res and sends it as a trade.completed or
// trade.failed alert.
func (n *Notifier) NotifyExecution(ctx context.Context, res domain.ExecutionResult) error {
	event, title, msg := FormatExecution(res)
	return n.Notify(ctx, event, title, msg)
}

// FormatExecution renders an execution result as an alert.
func FormatExecution(res domain.ExecutionResult) (event, title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "instrument: %s\nopportunity: %s\n", res.Instrument, res.OpportunityID)
	for _, l := range res.Legs {
		fmt.Fprintf(&b, "leg %d %s on %s: in %.6g out %.6g (attempts %d)\n",
			l.Leg, l.Side, l.Venue, l.InputAmount, l.OutputAmount, l.Attempts)
	}
	fmt.Fprintf(&b, "fees: %.4f", res.Fees)

	if res.Succeeded() && res.Profit != nil && res.ProfitPct != nil {
		fmt.Fprintf(&b, "\nprofit: %.4f (%.3f%%)", *res.Profit, *res.ProfitPct)
		return EventTradeCompleted, "Trade completed", b.String()
	}
	fmt.Fprintf(&b, "\nerror: %s", res.ErrorReason)
	return EventTradeFailed, "Trade failed", b.String()
}
