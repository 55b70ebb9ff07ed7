package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "relay"

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	dispatched       *prometheus.CounterVec
	unmapped         prometheus.Counter
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
	connections      prometheus.Gauge
	subscriptions    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and embedders usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dispatched_total",
			Help:      "Bus messages dispatched to clients, by client event name.",
		}, []string{"event"}),
		unmapped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unmapped_messages_total",
			Help:      "Pattern messages whose pattern has no event mapping.",
		}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Event frames accepted by client connections.",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_failures_total",
			Help:      "Event frames dropped because a connection could not accept them.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Currently connected clients.",
		}),
		subscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscription_up",
			Help:      "1 if the bus confirmed the pattern subscription, 0 if it failed.",
		}, []string{"pattern"}),
	}
}
