package aggstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/event"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func txn(id, account string, ts time.Time, amount float64) *event.Event {
	return &event.Event{
		ID:        id,
		Kind:      event.KindTransaction,
		Timestamp: ts,
		AccountID: account,
		Amount:    amount,
		TxnType:   event.TxnDebit,
		Status:    event.StatusCompleted,
	}
}

func testStore(t *testing.T, specs []*Spec) *Store {
	t.Helper()
	s := New(Config{
		Shards:      4,
		MaxLateness: 5 * time.Minute,
		DistinctCap: 8,
		Retention:   time.Hour,
		IdleTimeout: time.Hour,
	}, specs, zap.NewNop())
	s.WithClock(func() time.Time { return baseTime })
	return s
}

func TestTumblingWindowBuckets(t *testing.T) {
	spec := &Spec{
		ID:        "txn-account-1m",
		Dimension: event.DimAccount,
		Window:    Window{Kind: Tumbling, Size: time.Minute},
	}
	s := testStore(t, []*Spec{spec})

	// Three events in one bucket, one in the next.
	for i := 0; i < 3; i++ {
		_, err := s.Apply(txn(fmt.Sprintf("e%d", i), "acc-1", baseTime.Add(time.Duration(i)*10*time.Second), 100))
		require.NoError(t, err)
	}
	updates, err := s.Apply(txn("e3", "acc-1", baseTime.Add(70*time.Second), 100))
	require.NoError(t, err)
	require.Len(t, updates, 1)

	assert.Equal(t, int64(1), updates[0].Snapshot.Count)
	assert.Equal(t, baseTime.Add(time.Minute), updates[0].Key.BucketStart)

	first := Key{
		SpecID:      spec.ID,
		Dimension:   event.DimAccount,
		Value:       "acc-1",
		BucketStart: baseTime,
		BucketEnd:   baseTime.Add(time.Minute),
	}
	snap, ok := s.Snapshot(first)
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.Count)
	assert.Equal(t, float64(300), snap.Sum)
}

func TestRollingWindowKeyedByValueAlone(t *testing.T) {
	spec := &Spec{
		ID:        "account-activity",
		Dimension: event.DimAccount,
		Window:    Window{Kind: Rolling},
	}
	s := testStore(t, []*Spec{spec})

	u1, err := s.Apply(txn("e1", "acc-1", baseTime, 50))
	require.NoError(t, err)
	u2, err := s.Apply(txn("e2", "acc-1", baseTime.Add(30*time.Minute), 70))
	require.NoError(t, err)

	// Same key regardless of timestamp.
	assert.Equal(t, u1[0].Key.Identity(), u2[0].Key.Identity())
	assert.True(t, u2[0].Key.BucketStart.IsZero())
	assert.Equal(t, int64(2), u2[0].Snapshot.Count)
	assert.Equal(t, float64(120), u2[0].Snapshot.Sum)
	assert.Equal(t, 30*time.Minute, u2[0].Snapshot.Elapsed())
}

func TestLateEventRejected(t *testing.T) {
	spec := &Spec{
		ID:        "txn-account-1m",
		Dimension: event.DimAccount,
		Window:    Window{Kind: Tumbling, Size: time.Minute},
	}
	s := testStore(t, []*Spec{spec})

	_, err := s.Apply(txn("old", "acc-1", baseTime.Add(-10*time.Minute), 100))
	assert.Error(t, err)
	assert.Equal(t, int64(1), s.LateRejected())

	// Within tolerance is accepted and flagged late relative to the
	// newest event in the window.
	_, err = s.Apply(txn("fresh", "acc-1", baseTime.Add(40*time.Second), 100))
	require.NoError(t, err)
	updates, err := s.Apply(txn("ooo", "acc-1", baseTime.Add(10*time.Second), 100))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Late)
	assert.Equal(t, int64(2), updates[0].Snapshot.Count)
}

func TestFilterAndMissingDimension(t *testing.T) {
	spec := &Spec{
		ID:        "failed-only",
		Dimension: event.DimAccount,
		Window:    Window{Kind: Rolling},
		Filter:    func(ev *event.Event) bool { return ev.IsFailed() },
	}
	s := testStore(t, []*Spec{spec})

	ok := txn("e1", "acc-1", baseTime, 100)
	updates, err := s.Apply(ok)
	require.NoError(t, err)
	assert.Empty(t, updates)

	failed := txn("e2", "acc-1", baseTime, 100)
	failed.Status = event.StatusFailed
	updates, err = s.Apply(failed)
	require.NoError(t, err)
	assert.Len(t, updates, 1)

	// Login without account id contributes nothing to an account spec.
	login := &event.Event{ID: "e3", Kind: event.KindLogin, Timestamp: baseTime, CustomerID: "cust-1"}
	updates, err = s.Apply(login)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestDistinctSetCap(t *testing.T) {
	set := NewDistinctSet(3)
	for i := 0; i < 5; i++ {
		set.Add(fmt.Sprintf("v%d", i))
	}
	set.Add("v0") // duplicate, no effect

	assert.Equal(t, 5, set.Count())
	assert.True(t, set.Overflowed())
	assert.False(t, set.Add(""))
}

func TestDistinctTracking(t *testing.T) {
	spec := &Spec{
		ID:        "ip-activity",
		Dimension: event.DimCustomer,
		Window:    Window{Kind: Rolling},
		Distinct: map[string]DistinctFn{
			"ip": func(ev *event.Event) string { return ev.IPAddress },
		},
	}
	s := testStore(t, []*Spec{spec})

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		ev := txn(fmt.Sprintf("e%d", i), "acc-1", baseTime, 10)
		ev.CustomerID = "cust-1"
		ev.IPAddress = ip
		_, err := s.Apply(ev)
		require.NoError(t, err)
	}

	snap, ok := s.Snapshot(Key{SpecID: spec.ID, Dimension: event.DimCustomer, Value: "cust-1"})
	require.True(t, ok)
	assert.Equal(t, 2, snap.DistinctCount("ip"))
}

func TestEviction(t *testing.T) {
	tumbling := &Spec{
		ID:        "txn-account-1m",
		Dimension: event.DimAccount,
		Window:    Window{Kind: Tumbling, Size: time.Minute},
		Retention: 10 * time.Minute,
	}
	unbounded := &Spec{
		ID:        "card-accounts",
		Dimension: event.DimCardHash,
		Window:    Window{Kind: Unbounded},
	}
	s := testStore(t, []*Spec{tumbling, unbounded})

	ev := txn("e1", "acc-1", baseTime, 100)
	ev.CardHash = "hash-1"
	_, err := s.Apply(ev)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Size())

	// Before retention expires nothing is evicted.
	closed := s.Evict(baseTime.Add(5 * time.Minute))
	assert.Empty(t, closed)

	// Past bucket end + retention the tumbling window closes with its
	// final snapshot; the unbounded window stays.
	closed = s.Evict(baseTime.Add(12 * time.Minute))
	require.Len(t, closed, 1)
	assert.Equal(t, "txn-account-1m", closed[0].Key.SpecID)
	assert.Equal(t, int64(1), closed[0].Snapshot.Count)
	assert.Equal(t, 1, s.Size())
}

func TestShardForStable(t *testing.T) {
	a := ShardFor(event.DimAccount, "acc-1", 32)
	b := ShardFor(event.DimAccount, "acc-1", 32)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 32)

	// Different dimensions with the same value may differ; the hash
	// covers both parts.
	spread := map[int]bool{}
	for i := 0; i < 100; i++ {
		spread[ShardFor(event.DimAccount, fmt.Sprintf("acc-%d", i), 32)] = true
	}
	assert.Greater(t, len(spread), 10)
}
