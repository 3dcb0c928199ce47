package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics holds alert sink delivery metrics
type DeliveryMetrics struct {
	// Per-sink delivery outcomes
	Deliveries *prometheus.CounterVec

	// Retry metrics
	RetryAttempts    *prometheus.CounterVec
	RetryBackoffTime *prometheus.HistogramVec

	// Queue metrics
	QueueDepth    prometheus.Gauge
	QueueDropped  prometheus.Counter
	QueueEnqueued prometheus.Counter
}

// NewDeliveryMetrics creates a new delivery metrics collector
func NewDeliveryMetrics(registry *prometheus.Registry) *DeliveryMetrics {
	dm := &DeliveryMetrics{}
	dm.initMetrics()
	dm.registerMetrics(registry)
	return dm
}

// initMetrics initializes all delivery-related metrics
func (dm *DeliveryMetrics) initMetrics() {
	dm.Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_sink_deliveries_total",
			Help: "Total number of mutation deliveries per sink and result",
		},
		[]string{"sink", "result"},
	)

	dm.RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_sink_retry_attempts_total",
			Help: "Total number of delivery retry attempts per sink",
		},
		[]string{"sink"},
	)

	dm.RetryBackoffTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_sink_retry_backoff_seconds",
			Help:    "Total backoff time spent per delivery",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"sink"},
	)

	dm.QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_alert_queue_depth",
			Help: "Current number of pending alert mutations",
		},
	)

	dm.QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_alert_queue_dropped_total",
			Help: "Total number of mutations dropped on queue overflow",
		},
	)

	dm.QueueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_alert_queue_enqueued_total",
			Help: "Total number of mutations enqueued for delivery",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (dm *DeliveryMetrics) registerMetrics(registry *prometheus.Registry) {
	registry.MustRegister(dm.Deliveries)
	registry.MustRegister(dm.RetryAttempts)
	registry.MustRegister(dm.RetryBackoffTime)
	registry.MustRegister(dm.QueueDepth)
	registry.MustRegister(dm.QueueDropped)
	registry.MustRegister(dm.QueueEnqueued)
}
