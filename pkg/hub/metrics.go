package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "displaysync"

// metrics holds the hub's Prometheus collectors.
type metrics struct {
	connections        *prometheus.GaugeVec
	messagesTotal      *prometheus.CounterVec
	messagesDropped    *prometheus.CounterVec
	broadcastsTotal    *prometheus.CounterVec
	broadcastRecipient prometheus.Histogram
	writeErrors        prometheus.Counter
	dispatchPanics     prometheus.Counter
	libraryItems       prometheus.Gauge
}

// newMetrics creates the collectors. With a nil registerer they work
// but are not exported.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Open sync connections by role",
		}, []string{"role"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Inbound messages accepted for dispatch by type",
		}, []string{"type"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped by reason",
		}, []string{"reason"}),

		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Broadcasts by outbound message type",
		}, []string{"type"}),

		broadcastRecipient: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_recipients",
			Help:      "Connections reached per broadcast",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),

		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_errors_total",
			Help:      "Failed frame writes",
		}),

		dispatchPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_panics_total",
			Help:      "Handler panics recovered by the hub",
		}),

		libraryItems: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "library_items",
			Help:      "Items in the content library",
		}),
	}
}

// Drop reasons.
const (
	dropMalformed    = "malformed"
	dropUnregistered = "unregistered"
	dropUnauthorized = "unauthorized"
	dropQueueFull    = "queue_full"
)
