// Package relay bridges pattern subscriptions on a pub/sub bus to named
// events broadcast to every connected client.
//
// A Relay owns one of each core component: the pattern table, a connection
// registry, the emitter that fans events out over that registry, the
// dispatcher that maps bus messages to events, and the subscription manager
// that holds the dedicated bus connection. Nothing is shared between Relay
// instances.
package relay

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

// ClientMessageRequest is the request name clients use to send a message
// directly to the relay.
const ClientMessageRequest = "message_from_client"

// Relay is one bus-to-client relay instance.
type Relay struct {
	table         *patterns.Table
	registry      *Registry
	emitter       *Emitter
	dispatcher    *Dispatcher
	subscriptions *SubscriptionManager
	metrics       *Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option is a function that configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger. The relay adds a component attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithTracer sets the tracer used for per-message spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Relay) {
		r.tracer = tracer
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(r *Relay) {
		r.metrics = metrics
	}
}

// New creates a relay for table that subscribes through sub. sub must be a
// connection used for nothing but subscriptions; the relay owns it from here.
func New(table *patterns.Table, sub pubsub.Subscriber, opts ...Option) *Relay {
	r := &Relay{
		table:  table,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	r.logger = r.logger.With("component", "relay")

	r.registry = NewRegistry()
	r.emitter = NewEmitter(r.registry, r.metrics, r.logger)
	r.dispatcher = NewDispatcher(table, r.emitter, r.metrics, r.logger)
	r.subscriptions = NewSubscriptionManager(sub, table, r.dispatcher, r.tracer, r.metrics, r.logger)
	return r
}

// Start subscribes every pattern in the table. It returns once every
// subscription attempt has completed; failures are logged and reported in the
// outcomes but do not stop the relay.
func (r *Relay) Start(ctx context.Context) ([]Outcome, error) {
	outcomes, err := r.subscriptions.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	r.logger.Info("Relay initialized", "patterns", len(outcomes), "failed", failed)
	return outcomes, nil
}

// OnConnect registers a newly connected client.
func (r *Relay) OnConnect(conn Conn) {
	r.registry.Add(conn)
	r.metrics.connections.Set(float64(r.registry.Len()))
	r.logger.Info("Client connected", "conn_id", conn.ID())
}

// OnDisconnect unregisters a client. Unknown clients are ignored.
func (r *Relay) OnDisconnect(conn Conn) {
	if r.registry.Remove(conn) {
		r.logger.Info("Client disconnected", "conn_id", conn.ID())
	}
	r.metrics.connections.Set(float64(r.registry.Len()))
}

// HandleRequest answers a named client request. It reports false for
// request names the relay does not serve.
func (r *Relay) HandleRequest(name, payload string) (string, bool) {
	switch name {
	case ClientMessageRequest:
		return r.HandleClientMessage(payload), true
	default:
		return "", false
	}
}

// HandleClientMessage acknowledges a direct message from a client.
func (r *Relay) HandleClientMessage(payload string) string {
	r.logger.Info("Message from client", "payload", payload)
	return "Server received: " + payload
}

// Broadcast sends an event to every connected client.
func (r *Relay) Broadcast(ctx context.Context, name string, data any) int {
	return r.emitter.Broadcast(ctx, name, data)
}

// Dispatcher returns the relay's dispatcher.
func (r *Relay) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Subscriptions returns the relay's subscription manager.
func (r *Relay) Subscriptions() *SubscriptionManager {
	return r.subscriptions
}

// Registry returns the relay's connection registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Table returns the relay's pattern table.
func (r *Relay) Table() *patterns.Table {
	return r.table
}

// Close releases the subscribing connection.
func (r *Relay) Close() error {
	return r.subscriptions.Close()
}
