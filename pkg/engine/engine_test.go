package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	"github.com/meridianbank/sentinel/pkg/alert"
	"github.com/meridianbank/sentinel/pkg/config"
	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/metrics"
	"github.com/meridianbank/sentinel/pkg/refdata"
	"github.com/meridianbank/sentinel/pkg/rules"
	"github.com/meridianbank/sentinel/pkg/sink"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	store  *aggstore.Store
	sink   *sink.MemorySink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	catalog, err := rules.DefaultCatalog(config.DefaultConfig().Rules)
	require.NoError(t, err)

	ref := refdata.NewStaticProvider(nil, nil, nil, nil)
	eval := rules.NewEvaluator(catalog, ref, logger)

	store := aggstore.New(aggstore.Config{
		Shards:      4,
		MaxLateness: 5 * time.Minute,
		DistinctCap: 64,
		Retention:   24 * time.Hour,
		IdleTimeout: 24 * time.Hour,
	}, catalog.Specs(), logger)
	store.WithClock(func() time.Time { return baseTime })

	mem := sink.NewMemorySink("memory")
	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		QueueSize: 64,
		Retry: &senterrors.RetryPolicy{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			RetriableFunc:  func(error) bool { return true },
		},
	}, []alert.Sink{mem}, logger)

	manager := alert.NewManager(logger)
	manager.WithClock(func() time.Time { return baseTime })

	eng := New(config.EngineConfig{
		Shards:           2,
		ShardBufferSize:  16,
		IngestBufferSize: 64,
		EvictionTick:     time.Hour,
		DedupeRetention:  time.Hour,
	}, store, eval, manager, dispatcher, metrics.NewCollector(logger), logger)
	eng.WithClock(func() time.Time { return baseTime })

	return &harness{engine: eng, store: store, sink: mem}
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

func txn(id, account string, amount float64) *event.Event {
	return &event.Event{
		ID:        id,
		Kind:      event.KindTransaction,
		Timestamp: baseTime,
		AccountID: account,
		Amount:    amount,
		Currency:  "EUR",
		TxnType:   event.TxnDebit,
		Status:    event.StatusCompleted,
	}
}

func TestEngineRaisesAlertEndToEnd(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(context.Background()))

	h.engine.Submit("test", txn("e1", "acc-1", 60000))

	waitFor(t, func() bool { return len(h.sink.Mutations()) == 1 })
	h.engine.Stop()

	got := h.sink.Mutations()[0]
	assert.Equal(t, alert.MutationCreated, got.Kind)
	assert.Equal(t, "large-amount", got.Alert.RuleID)
	assert.Equal(t, alert.StatusOpen, got.Alert.Status)
	assert.Equal(t, "e1", got.Alert.EventID)
	assert.Equal(t, 1, h.engine.Alerts().OpenCount())
}

func TestEngineDropsDuplicateEvents(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(context.Background()))

	h.engine.Submit("test", txn("e1", "acc-1", 100))
	h.engine.Submit("test", txn("e1", "acc-1", 100)) // redelivery
	h.engine.Submit("test", txn("e2", "acc-1", 100))

	key := aggstore.Key{
		SpecID:      rules.SpecTxnAccount1m,
		Dimension:   event.DimAccount,
		Value:       "acc-1",
		BucketStart: baseTime,
		BucketEnd:   baseTime.Add(time.Minute),
	}
	waitFor(t, func() bool {
		snap, ok := h.store.Snapshot(key)
		return ok && snap.Count == 2
	})
	h.engine.Stop()

	snap, ok := h.store.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.Count)
}

func TestEngineDropsInvalidEvents(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(context.Background()))

	// Transaction without an account id never reaches the store.
	h.engine.Submit("test", &event.Event{ID: "bad", Kind: event.KindTransaction, Timestamp: baseTime})
	h.engine.Submit("test", txn("e1", "acc-1", 100))

	key := aggstore.Key{
		SpecID:      rules.SpecTxnAccount1m,
		Dimension:   event.DimAccount,
		Value:       "acc-1",
		BucketStart: baseTime,
		BucketEnd:   baseTime.Add(time.Minute),
	}
	waitFor(t, func() bool {
		snap, ok := h.store.Snapshot(key)
		return ok && snap.Count == 1
	})
	h.engine.Stop()
	assert.Equal(t, 1, h.store.Size())
}

// sliceSource replays a fixed set of events then blocks until cancelled,
// matching the Source contract used by the real transports.
type sliceSource struct {
	events []*event.Event
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) Start(ctx context.Context, out chan<- *event.Event) error {
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *sliceSource) Stop() error { return nil }

func TestEngineConsumesFromSource(t *testing.T) {
	h := newHarness(t)

	var events []*event.Event
	for i := 0; i < 12; i++ {
		ev := txn(fmt.Sprintf("e%d", i), "acc-1", 10)
		ev.Timestamp = baseTime.Add(time.Duration(i) * time.Second)
		events = append(events, ev)
	}
	h.engine.AddSource(&sliceSource{events: events})

	require.NoError(t, h.engine.Start(context.Background()))
	waitFor(t, func() bool {
		for _, m := range h.sink.Mutations() {
			if m.Alert.RuleID == "velocity-burst" {
				return true
			}
		}
		return false
	})
	h.engine.Stop()
}

func TestEngineSweepEvictsAndRechecks(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(context.Background()))

	h.engine.Submit("test", txn("e1", "acc-1", 100))
	waitFor(t, func() bool { return h.store.Size() > 0 })
	h.engine.Stop()

	// Move the clock past retention and force a sweep.
	later := baseTime.Add(48 * time.Hour)
	h.engine.WithClock(func() time.Time { return later })
	h.store.WithClock(func() time.Time { return later })
	h.engine.sweep()

	assert.Equal(t, 0, h.store.Size())
}

func TestDedupeTable(t *testing.T) {
	table := newDedupeTable()

	assert.False(t, table.observe("e1", baseTime))
	assert.True(t, table.observe("e1", baseTime.Add(time.Minute)))
	assert.False(t, table.observe("e2", baseTime.Add(time.Minute)))
	assert.Equal(t, 2, table.size())

	removed := table.prune(baseTime.Add(30 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, table.size())

	// After pruning, the id is treated as new again.
	assert.False(t, table.observe("e1", baseTime.Add(2*time.Minute)))
}
