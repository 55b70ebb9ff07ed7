package relay

import (
	"context"
	"log/slog"

	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

const (
	// UnknownEvent is emitted for pattern messages whose pattern has no
	// mapping, so operators can see them and extend the table.
	UnknownEvent = "unknown_event_type"
	// DirectEvent is emitted for messages from direct channel subscriptions.
	DirectEvent = "default_redis_message"
)

// Dispatcher turns each bus message into exactly one broadcast.
type Dispatcher struct {
	table   *patterns.Table
	out     Broadcaster
	metrics *Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher that resolves against table and
// broadcasts through out.
func NewDispatcher(table *patterns.Table, out Broadcaster, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{table: table, out: out, metrics: metrics, logger: logger}
}

// Resolve returns the client event name for a matched pattern, falling back
// to UnknownEvent.
func (d *Dispatcher) Resolve(pattern string) (string, bool) {
	if event, ok := d.table.Resolve(pattern); ok {
		return event, true
	}
	return UnknownEvent, false
}

// HandlePattern dispatches a pattern-matched bus message.
func (d *Dispatcher) HandlePattern(ctx context.Context, msg pubsub.PatternMessage) {
	d.logger.DebugContext(ctx, "Received pattern message",
		"pattern", msg.Pattern, "channel", msg.Channel, "payload", msg.Payload)

	event, mapped := d.Resolve(msg.Pattern)
	if !mapped {
		d.metrics.unmapped.Inc()
		d.logger.WarnContext(ctx, "No event name defined for pattern, emitting fallback",
			"pattern", msg.Pattern, "event", event)
	}

	d.metrics.dispatched.WithLabelValues(event).Inc()
	d.out.Broadcast(ctx, event, Body{Pattern: msg.Pattern, Channel: msg.Channel, Payload: msg.Payload})
}

// HandleMessage dispatches a message from a direct channel subscription.
// There is no pattern, so only the payload is forwarded.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg pubsub.Message) {
	d.logger.DebugContext(ctx, "Received channel message", "channel", msg.Channel, "payload", msg.Payload)

	d.metrics.dispatched.WithLabelValues(DirectEvent).Inc()
	d.out.Broadcast(ctx, DirectEvent, msg.Payload)
}
