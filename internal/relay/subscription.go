package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

var (
	// ErrAlreadyInitialized is returned when Initialize runs a second time.
	ErrAlreadyInitialized = errors.New("subscriptions already initialized")
	// ErrNotReady is returned when Reattach is called before Initialize finished.
	ErrNotReady = errors.New("subscriptions not ready")
)

// State is the lifecycle phase of the subscription manager.
type State int32

const (
	StateUninitialized State = iota
	StateSubscribing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Outcome is the result of subscribing one pattern.
type Outcome struct {
	Pattern string `json:"pattern"`
	// Count is the subscription count the bus reported on success.
	Count int   `json:"count"`
	Err   error `json:"-"`
}

// OK reports whether the subscription succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// SubscriptionManager owns the dedicated subscribing connection and issues
// one pattern subscription per table entry.
type SubscriptionManager struct {
	table      *patterns.Table
	dispatcher *Dispatcher
	tracer     trace.Tracer
	metrics    *Metrics
	logger     *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	sub      pubsub.Subscriber
	outcomes []Outcome
}

// NewSubscriptionManager creates a manager for sub. The manager takes
// ownership of sub and closes it in Close.
func NewSubscriptionManager(sub pubsub.Subscriber, table *patterns.Table, dispatcher *Dispatcher, tracer trace.Tracer, metrics *Metrics, logger *slog.Logger) *SubscriptionManager {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		sub:        sub,
		table:      table,
		dispatcher: dispatcher,
		tracer:     tracer,
		metrics:    metrics,
		logger:     logger,
	}
}

// State returns the current lifecycle phase.
func (m *SubscriptionManager) State() State {
	return State(m.state.Load())
}

// Outcomes returns the results of the most recent subscription round.
func (m *SubscriptionManager) Outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

// Initialize wires the dispatcher to the subscriber and subscribes every
// pattern in the table. Subscriptions run concurrently and independently; a
// failed pattern is reported in its Outcome and does not stop the others.
// Initialize returns once every attempt has completed or ctx is done.
func (m *SubscriptionManager) Initialize(ctx context.Context) ([]Outcome, error) {
	if !m.state.CompareAndSwap(int32(StateUninitialized), int32(StateSubscribing)) {
		return nil, ErrAlreadyInitialized
	}
	m.logger.Info("Subscribing to bus patterns", "patterns", m.table.Len())

	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()

	outcomes := m.subscribeAll(ctx, sub)
	m.state.Store(int32(StateReady))
	return outcomes, nil
}

// Reattach replaces the subscribing connection after the previous one was
// lost, re-registers the message handlers on it and subscribes every pattern
// again. The old connection is closed.
func (m *SubscriptionManager) Reattach(ctx context.Context, sub pubsub.Subscriber) ([]Outcome, error) {
	if m.State() != StateReady {
		return nil, ErrNotReady
	}

	m.mu.Lock()
	old := m.sub
	m.sub = sub
	m.mu.Unlock()

	if old != nil && old != sub {
		if err := old.Close(); err != nil {
			m.logger.Warn("Failed to close previous subscriber", "error", err)
		}
	}
	m.logger.Info("Reattaching to new bus connection", "patterns", m.table.Len())
	return m.subscribeAll(ctx, sub), nil
}

func (m *SubscriptionManager) subscribeAll(ctx context.Context, sub pubsub.Subscriber) []Outcome {
	// Handlers go in before the first subscribe: messages can arrive as soon
	// as a pattern is confirmed.
	sub.OnPatternMessage(pubsub.TracePatternHandler(m.tracer, m.dispatcher.HandlePattern))
	sub.OnMessage(pubsub.TraceMessageHandler(m.tracer, m.dispatcher.HandleMessage))

	entries := m.table.Patterns()
	outcomes := make([]Outcome, len(entries))

	var g errgroup.Group
	for i, pattern := range entries {
		g.Go(func() error {
			count, err := sub.PSubscribe(ctx, pattern)
			outcomes[i] = Outcome{Pattern: pattern, Count: count, Err: err}
			m.report(outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.outcomes = outcomes
	m.mu.Unlock()
	return outcomes
}

func (m *SubscriptionManager) report(o Outcome) {
	if o.Err != nil {
		m.metrics.subscriptions.WithLabelValues(o.Pattern).Set(0)
		m.logger.Error("Failed to pattern subscribe", "pattern", o.Pattern, "error", o.Err)
		return
	}
	m.metrics.subscriptions.WithLabelValues(o.Pattern).Set(1)
	m.logger.Info("Pattern subscribed", "pattern", o.Pattern, "count", o.Count)
}

// Close closes the subscribing connection.
func (m *SubscriptionManager) Close() error {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}
