package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/metrics"
)

// captureSink records delivered mutations, optionally failing the first
// few calls to exercise the retry path.
type captureSink struct {
	mu        sync.Mutex
	mutations []Mutation
	calls     int
	failFirst int
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("delivery refused")
	}
	s.mutations = append(s.mutations, m)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) delivered() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.mutations...)
}

func fastRetry(maxAttempts int) *senterrors.RetryPolicy {
	return &senterrors.RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetriableFunc:     func(error) bool { return true },
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func mutation(kind MutationKind, id string) Mutation {
	return Mutation{
		Kind: kind,
		Alert: Alert{
			ID:        id,
			RuleID:    "r",
			WindowKey: "k",
			Status:    StatusOpen,
		},
		At: baseTime,
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, Retry: fastRetry(0)}, []Sink{sink}, zap.NewNop())

	d.Start(context.Background())
	d.Enqueue(mutation(MutationCreated, "a-1"))
	d.Enqueue(mutation(MutationUpdated, "a-2"))

	waitFor(t, func() bool { return len(sink.delivered()) == 2 })
	d.Stop()

	got := sink.delivered()
	assert.Equal(t, "a-1", got[0].Alert.ID)
	assert.Equal(t, "a-2", got[1].Alert.ID)

	delivered, dropped, failed := d.Stats()
	assert.Equal(t, int64(2), delivered)
	assert.Equal(t, int64(0), dropped)
	assert.Equal(t, int64(0), failed)
}

func TestDispatcherSkipsSuppressed(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, Retry: fastRetry(0)}, []Sink{sink}, zap.NewNop())

	d.Start(context.Background())
	d.Enqueue(mutation(MutationSuppressed, "a-1"))
	d.Enqueue(mutation(MutationCreated, "a-2"))

	waitFor(t, func() bool { return len(sink.delivered()) == 1 })
	d.Stop()

	assert.Equal(t, "a-2", sink.delivered()[0].Alert.ID)
}

func TestDispatcherRetriesFailures(t *testing.T) {
	sink := &captureSink{failFirst: 2}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, Retry: fastRetry(3)}, []Sink{sink}, zap.NewNop())

	d.Start(context.Background())
	d.Enqueue(mutation(MutationCreated, "a-1"))

	waitFor(t, func() bool { return len(sink.delivered()) == 1 })
	d.Stop()

	delivered, _, failed := d.Stats()
	assert.Equal(t, int64(1), delivered)
	assert.Equal(t, int64(0), failed)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	sink := &captureSink{failFirst: 10}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, Retry: fastRetry(1)}, []Sink{sink}, zap.NewNop())

	d.Start(context.Background())
	d.Enqueue(mutation(MutationCreated, "a-1"))

	waitFor(t, func() bool {
		_, _, failed := d.Stats()
		return failed == 1
	})
	d.Stop()

	assert.Empty(t, sink.delivered())
}

func TestDispatcherDropsOldestOnOverflow(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(DispatcherConfig{QueueSize: 2, Retry: fastRetry(0)}, []Sink{sink}, zap.NewNop())

	// Fill the queue before the worker starts so overflow is forced.
	d.Enqueue(mutation(MutationCreated, "a-1"))
	d.Enqueue(mutation(MutationCreated, "a-2"))
	d.Enqueue(mutation(MutationCreated, "a-3"))
	require.Equal(t, 2, d.QueueDepth())

	d.Start(context.Background())
	waitFor(t, func() bool { return len(sink.delivered()) == 2 })
	d.Stop()

	got := sink.delivered()
	assert.Equal(t, "a-2", got[0].Alert.ID)
	assert.Equal(t, "a-3", got[1].Alert.ID)

	_, dropped, _ := d.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestDispatcherRecordsDeliveryMetrics(t *testing.T) {
	dm := metrics.NewDeliveryMetrics(prometheus.NewRegistry())
	sink := &captureSink{failFirst: 1}
	d := NewDispatcher(DispatcherConfig{QueueSize: 2, Retry: fastRetry(2), Metrics: dm}, []Sink{sink}, zap.NewNop())

	// Overflow before the worker starts: one drop is counted.
	d.Enqueue(mutation(MutationCreated, "a-1"))
	d.Enqueue(mutation(MutationCreated, "a-2"))
	d.Enqueue(mutation(MutationCreated, "a-3"))
	assert.Equal(t, float64(3), testutil.ToFloat64(dm.QueueEnqueued))
	assert.Equal(t, float64(1), testutil.ToFloat64(dm.QueueDropped))
	assert.Equal(t, float64(2), testutil.ToFloat64(dm.QueueDepth))

	d.Start(context.Background())
	waitFor(t, func() bool { return len(sink.delivered()) == 2 })
	d.Stop()

	assert.Equal(t, float64(2), testutil.ToFloat64(dm.Deliveries.WithLabelValues("capture", "success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(dm.Deliveries.WithLabelValues("capture", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(dm.RetryAttempts.WithLabelValues("capture")))
	assert.Equal(t, float64(0), testutil.ToFloat64(dm.QueueDepth))
}

func TestDispatcherStopDropsPending(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, Retry: fastRetry(0)}, []Sink{sink}, zap.NewNop())

	d.Enqueue(mutation(MutationCreated, "a-1"))
	d.Enqueue(mutation(MutationCreated, "a-2"))

	// Never started: Stop counts everything still queued as dropped.
	d.Stop()

	_, dropped, _ := d.Stats()
	assert.Equal(t, int64(2), dropped)
	assert.Equal(t, 0, d.QueueDepth())
}
