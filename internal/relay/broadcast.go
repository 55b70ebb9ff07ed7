package relay

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event is the frame pushed to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Body is the data of an event produced from a pattern message. The full
// triple is forwarded so clients can tell where a message came from. The
// payload travels under "message", the key existing clients read.
type Body struct {
	Pattern string `json:"pattern"`
	Channel string `json:"channel"`
	Payload string `json:"message"`
}

// Broadcaster delivers an event to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, name string, data any) int
}

// Emitter is the Broadcaster backed by a Registry.
type Emitter struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// NewEmitter creates an emitter over registry.
func NewEmitter(registry *Registry, metrics *Metrics, logger *slog.Logger) *Emitter {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{registry: registry, metrics: metrics, logger: logger}
}

// Broadcast sends the event to every connection in the registry and returns
// how many accepted it. A connection that fails is skipped; the error is
// logged and never returned.
func (e *Emitter) Broadcast(ctx context.Context, name string, data any) int {
	frame, err := json.Marshal(Event{Name: name, Data: data})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to encode event", "event", name, "error", err)
		return 0
	}

	conns := e.registry.Snapshot()
	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			e.metrics.deliveryFailures.Inc()
			e.logger.DebugContext(ctx, "Dropped event for connection", "event", name, "conn_id", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	e.metrics.deliveries.Add(float64(delivered))
	e.logger.DebugContext(ctx, "Broadcast event", "event", name, "recipients", len(conns), "delivered", delivered)
	return delivered
}
