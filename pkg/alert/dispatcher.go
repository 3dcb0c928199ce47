package alert

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/metrics"
)

// Sink receives alert mutations. Implementations must tolerate redelivery
// of the same (rule id, window key) pair and treat it as an upsert.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Mutation) error
	Close() error
}

// DispatcherConfig bounds the dispatch queue and delivery retries.
// Metrics points at the shared delivery metric families; when nil the
// dispatcher records into a private registry so counters always work.
type DispatcherConfig struct {
	QueueSize int
	Retry     *senterrors.RetryPolicy
	Metrics   *metrics.DeliveryMetrics
}

// Dispatcher forwards mutations to sinks through a bounded queue. The
// queue never blocks the evaluation path: on overflow the oldest pending
// mutation is dropped and counted, keeping the engine responsive when a
// sink stalls.
type Dispatcher struct {
	sinks  []Sink
	retry  *senterrors.RetryPolicy
	dm     *metrics.DeliveryMetrics
	logger *zap.Logger

	mu      sync.Mutex
	pending []Mutation
	wake    chan struct{}
	max     int

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(cfg DispatcherConfig, sinks []Sink, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	retry := cfg.Retry
	if retry == nil {
		retry = senterrors.DefaultRetryPolicy()
	}
	dm := cfg.Metrics
	if dm == nil {
		dm = metrics.NewDeliveryMetrics(prometheus.NewRegistry())
	}
	return &Dispatcher{
		sinks:  sinks,
		retry:  retry,
		dm:     dm,
		logger: logger,
		wake:   make(chan struct{}, 1),
		max:    cfg.QueueSize,
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop drains nothing further and waits for the in-flight delivery to
// finish. Pending mutations still queued are dropped and counted.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	d.mu.Lock()
	remaining := len(d.pending)
	d.pending = nil
	d.mu.Unlock()
	d.dm.QueueDepth.Set(0)
	if remaining > 0 {
		d.dropped.Add(int64(remaining))
		d.dm.QueueDropped.Add(float64(remaining))
		d.logger.Warn("dropped undelivered alert mutations at shutdown",
			zap.Int("count", remaining))
	}
}

// Enqueue queues a mutation for delivery. Suppressed mutations are
// recorded nowhere downstream and are skipped here.
func (d *Dispatcher) Enqueue(m Mutation) {
	if m.Kind == MutationSuppressed {
		return
	}

	d.mu.Lock()
	if len(d.pending) >= d.max {
		// Drop-oldest keeps the freshest alerts flowing when a sink
		// outage backs the queue up.
		d.pending = d.pending[1:]
		d.dropped.Add(1)
		d.dm.QueueDropped.Inc()
		d.logger.Warn("alert queue full, dropped oldest mutation")
	}
	d.pending = append(d.pending, m)
	d.dm.QueueEnqueued.Inc()
	d.dm.QueueDepth.Set(float64(len(d.pending)))
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		m, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}

		d.deliver(ctx, m)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (d *Dispatcher) next() (Mutation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return Mutation{}, false
	}
	m := d.pending[0]
	d.pending = d.pending[1:]
	d.dm.QueueDepth.Set(float64(len(d.pending)))
	return m, true
}

func (d *Dispatcher) deliver(ctx context.Context, m Mutation) {
	for _, sink := range d.sinks {
		result := d.retry.Execute(ctx, func(ctx context.Context) error {
			return sink.Deliver(ctx, m)
		})
		if result.Attempts > 1 {
			d.dm.RetryAttempts.WithLabelValues(sink.Name()).Add(float64(result.Attempts - 1))
			d.dm.RetryBackoffTime.WithLabelValues(sink.Name()).Observe(result.TotalBackoff.Seconds())
		}
		if result.Success {
			d.delivered.Add(1)
			d.dm.Deliveries.WithLabelValues(sink.Name(), "success").Inc()
			continue
		}
		d.failed.Add(1)
		d.dm.Deliveries.WithLabelValues(sink.Name(), "failure").Inc()
		d.logger.Error("alert delivery failed, mutation dropped for sink",
			zap.String("sink", sink.Name()),
			zap.String("alert_id", m.Alert.ID),
			zap.String("kind", string(m.Kind)),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.LastError))
	}
}

// Stats reports delivery counters.
func (d *Dispatcher) Stats() (delivered, dropped, failed int64) {
	return d.delivered.Load(), d.dropped.Load(), d.failed.Load()
}

// QueueDepth returns the number of pending mutations.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
