package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds all Prometheus metrics for the fraud detection engine
type Collector struct {
	// Ingest metrics
	EventsProcessed   *prometheus.CounterVec
	EventsRejected    *prometheus.CounterVec
	ProcessingLatency *prometheus.HistogramVec
	ShardQueueDepth   *prometheus.GaugeVec

	// Window store metrics
	WindowUpdates  *prometheus.CounterVec
	WindowsActive  prometheus.Gauge
	WindowsEvicted *prometheus.CounterVec
	LateAccepted   prometheus.Counter
	StateResets    prometheus.Counter

	// Rule metrics
	RuleTriggers *prometheus.CounterVec
	RulesSkipped prometheus.Counter

	// Alert metrics
	AlertMutations *prometheus.CounterVec
	AlertsOpen     prometheus.Gauge

	// Sink delivery metrics
	Delivery *DeliveryMetrics

	// Custom metrics registry for embedding applications
	customMetrics map[string]prometheus.Collector
	customMu      sync.RWMutex

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector(logger *zap.Logger) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry:      registry,
		logger:        logger,
		customMetrics: make(map[string]prometheus.Collector),
	}

	c.initMetrics()
	c.registerMetrics()

	// Initialize delivery metrics
	c.Delivery = NewDeliveryMetrics(registry)

	return c
}

// initMetrics initializes all Prometheus metrics
func (c *Collector) initMetrics() {
	// Ingest metrics
	c.EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_processed_total",
			Help: "Total number of events accepted by the engine",
		},
		[]string{"source"},
	)

	c.EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_rejected_total",
			Help: "Total number of events rejected before evaluation",
		},
		[]string{"reason"},
	)

	c.ProcessingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_processing_latency_seconds",
			Help:    "Per-event processing latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"},
	)

	c.ShardQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_shard_queue_depth",
			Help: "Pending events per shard worker queue",
		},
		[]string{"shard"},
	)

	// Window store metrics
	c.WindowUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_window_updates_total",
			Help: "Total number of window aggregate updates",
		},
		[]string{"spec"},
	)

	c.WindowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_windows_active",
			Help: "Current number of live window entries",
		},
	)

	c.WindowsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_windows_evicted_total",
			Help: "Total number of windows evicted past retention",
		},
		[]string{"spec"},
	)

	c.LateAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_late_events_accepted_total",
			Help: "Total number of out-of-order events accepted within tolerance",
		},
	)

	c.StateResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_state_resets_total",
			Help: "Total number of per-key state resets after invariant violations",
		},
	)

	// Rule metrics
	c.RuleTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rule_triggers_total",
			Help: "Total number of rule firings",
		},
		[]string{"rule", "severity"},
	)

	c.RulesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_rules_skipped_total",
			Help: "Total number of rule checks skipped on unavailable reference data",
		},
	)

	// Alert metrics
	c.AlertMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alert_mutations_total",
			Help: "Total number of alert mutations by kind",
		},
		[]string{"kind"},
	)

	c.AlertsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_alerts_open",
			Help: "Current number of non-terminal alerts",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (c *Collector) registerMetrics() {
	c.registry.MustRegister(c.EventsProcessed)
	c.registry.MustRegister(c.EventsRejected)
	c.registry.MustRegister(c.ProcessingLatency)
	c.registry.MustRegister(c.ShardQueueDepth)

	c.registry.MustRegister(c.WindowUpdates)
	c.registry.MustRegister(c.WindowsActive)
	c.registry.MustRegister(c.WindowsEvicted)
	c.registry.MustRegister(c.LateAccepted)
	c.registry.MustRegister(c.StateResets)

	c.registry.MustRegister(c.RuleTriggers)
	c.registry.MustRegister(c.RulesSkipped)

	c.registry.MustRegister(c.AlertMutations)
	c.registry.MustRegister(c.AlertsOpen)
}

// Registry exposes the underlying registry for auxiliary collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RegisterCustomMetric allows applications to register custom metrics
func (c *Collector) RegisterCustomMetric(name string, collector prometheus.Collector) error {
	c.customMu.Lock()
	defer c.customMu.Unlock()

	if _, exists := c.customMetrics[name]; exists {
		return prometheus.AlreadyRegisteredError{}
	}

	if err := c.registry.Register(collector); err != nil {
		return err
	}

	c.customMetrics[name] = collector
	c.logger.Info("Registered custom metric", zap.String("name", name))
	return nil
}

// UnregisterCustomMetric removes a custom metric
func (c *Collector) UnregisterCustomMetric(name string) bool {
	c.customMu.Lock()
	defer c.customMu.Unlock()

	if collector, exists := c.customMetrics[name]; exists {
		c.registry.Unregister(collector)
		delete(c.customMetrics, name)
		c.logger.Info("Unregistered custom metric", zap.String("name", name))
		return true
	}
	return false
}

// Handler returns an HTTP handler for the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server creates an HTTP server for metrics exposition
type Server struct {
	collector *Collector
	server    *http.Server
	logger    *zap.Logger
}

// NewServer creates a new metrics HTTP server
func NewServer(addr string, collector *Collector, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		collector: collector,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("Stopping metrics server")
	return s.server.Close()
}
