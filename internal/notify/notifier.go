// Package notify fans opportunity alerts out to chat channels. Each alert
// carries an event type and is dropped unless that type is enabled.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// EventOpportunityUpsert is raised when an opportunity is surfaced or changes.
const EventOpportunityUpsert = "opportunity_upsert"

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every registered Sender.
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
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is registered.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Allows reports whether event passes the configured filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers to all senders when event is allowed. A failing sender
// does not stop delivery to the others; failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Allows(event) {
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
			slog.String("event", event),
		)
	}
	return errors.Join(errs...)
}

// NotifyOpportunity formats o and sends it as an opportunity_upsert alert.
func (n *Notifier) NotifyOpportunity(ctx context.Context, o domain.Opportunity) error {
	title, msg := FormatOpportunity(o)
	return n.Notify(ctx, EventOpportunityUpsert, title, msg)
}

// FormatOpportunity renders the alert title and body for o.
func FormatOpportunity(o domain.Opportunity) (title, message string) {
	title = fmt.Sprintf("Arb %.2f%%: %s", o.Edge*100, o.Question)
	var b strings.Builder
	fmt.Fprintf(&b, "edge %.4f, sum %.4f, %d outcomes", o.Edge, o.SumPrices, o.NumOutcomes)
	if o.Liquidity != nil {
		fmt.Fprintf(&b, ", liquidity $%.0f", *o.Liquidity)
	}
	if c := o.CategoryOrEmpty(); c != "" {
		fmt.Fprintf(&b, "\ncategory: %s", c)
	}
	if o.URL != "" {
		fmt.Fprintf(&b, "\n%s", o.URL)
	}
	return title, b.String()
}
