package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/refdata"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testSetup(t *testing.T) (*Evaluator, *aggstore.Store) {
	t.Helper()
	cfg := config.DefaultConfig().Rules
	catalog, err := DefaultCatalog(cfg)
	require.NoError(t, err)

	ref := refdata.NewStaticProvider(
		map[string]string{"merch-casino": "7995", "merch-grocery": "5411"},
		[]string{"7995"},
		[]string{"KP"},
		[]string{"Shadowville"},
	)
	eval := NewEvaluator(catalog, ref, zap.NewNop())

	store := aggstore.New(aggstore.Config{
		Shards:      4,
		MaxLateness: 5 * time.Minute,
		DistinctCap: 64,
		Retention:   24 * time.Hour,
		IdleTimeout: 24 * time.Hour,
	}, catalog.Specs(), zap.NewNop())
	store.WithClock(func() time.Time { return baseTime })
	return eval, store
}

func txn(id, account string, ts time.Time, amount float64) *event.Event {
	return &event.Event{
		ID:         id,
		Kind:       event.KindTransaction,
		Timestamp:  ts,
		AccountID:  account,
		CustomerID: "cust-1",
		Amount:     amount,
		Currency:   "EUR",
		TxnType:    event.TxnDebit,
		Status:     event.StatusCompleted,
	}
}

func ruleIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Rule.ID
	}
	return ids
}

func feed(t *testing.T, eval *Evaluator, store *aggstore.Store, ev *event.Event) []Result {
	t.Helper()
	updates, err := store.Apply(ev)
	require.NoError(t, err)

	var results []Result
	results = append(results, eval.EvaluateEvent(context.Background(), ev)...)
	for _, u := range updates {
		results = append(results, eval.EvaluateUpdate(u)...)
	}
	return results
}

func TestVelocityBurst(t *testing.T) {
	eval, store := testSetup(t)

	// The default threshold is 10; the 11th transaction in the minute
	// bucket fires, and subsequent ones are held by the cooldown.
	var fired []Result
	for i := 0; i < 12; i++ {
		ev := txn(fmt.Sprintf("e%d", i), "acc-1", baseTime.Add(time.Duration(i)*time.Second), 10)
		for _, res := range feed(t, eval, store, ev) {
			if res.Rule.ID == "velocity-burst" {
				fired = append(fired, res)
			}
		}
	}
	require.Len(t, fired, 1)
	assert.Equal(t, int64(11), fired[0].Snapshot.Count)
	assert.Equal(t, "e10", fired[0].EventID)
}

func TestLargeAmountStrictlyGreater(t *testing.T) {
	eval, store := testSetup(t)

	at := feed(t, eval, store, txn("e1", "acc-1", baseTime, 50000))
	assert.NotContains(t, ruleIDs(at), "large-amount")

	above := feed(t, eval, store, txn("e2", "acc-2", baseTime, 50000.01))
	assert.Contains(t, ruleIDs(above), "large-amount")
}

func TestCooldownSuppressesRetriggers(t *testing.T) {
	eval, store := testSetup(t)

	first := feed(t, eval, store, txn("e1", "acc-1", baseTime, 60000))
	assert.Contains(t, ruleIDs(first), "large-amount")

	// Within the 10 minute default cooldown: suppressed.
	second := feed(t, eval, store, txn("e2", "acc-1", baseTime.Add(time.Minute), 60000))
	assert.NotContains(t, ruleIDs(second), "large-amount")

	// Another account is unaffected.
	other := feed(t, eval, store, txn("e3", "acc-2", baseTime.Add(time.Minute), 60000))
	assert.Contains(t, ruleIDs(other), "large-amount")

	// Past the cooldown the rule fires again.
	third := feed(t, eval, store, txn("e4", "acc-1", baseTime.Add(11*time.Minute), 60000))
	assert.Contains(t, ruleIDs(third), "large-amount")
}

func TestSharedIPFanout(t *testing.T) {
	eval, store := testSetup(t)

	var fired []Result
	for i := 0; i < 5; i++ {
		ev := txn(fmt.Sprintf("e%d", i), fmt.Sprintf("acc-%d", i), baseTime.Add(time.Duration(i)*time.Second), 10)
		ev.CustomerID = fmt.Sprintf("cust-%d", i)
		ev.IPAddress = "203.0.113.7"
		for _, res := range feed(t, eval, store, ev) {
			if res.Rule.ID == "shared-ip-fanout" {
				fired = append(fired, res)
			}
		}
	}
	// Fires when the 4th distinct customer appears (threshold 3).
	require.Len(t, fired, 1)
	assert.Equal(t, event.DimIP, fired[0].Key.Dimension)
	assert.Equal(t, "203.0.113.7", fired[0].Key.Value)
}

func TestImpossibleTravel(t *testing.T) {
	eval, store := testSetup(t)

	first := txn("e1", "acc-1", baseTime, 20)
	first.CardID = "card-1"
	first.MerchantCity = "Lisbon"
	results := feed(t, eval, store, first)
	assert.NotContains(t, ruleIDs(results), "impossible-travel")

	// Second city five minutes later, inside the 15 minute travel window.
	second := txn("e2", "acc-1", baseTime.Add(5*time.Minute), 20)
	second.CardID = "card-1"
	second.MerchantCity = "Warsaw"
	results = feed(t, eval, store, second)
	assert.Contains(t, ruleIDs(results), "impossible-travel")
}

func TestImpossibleTravelNeedsTwoCities(t *testing.T) {
	eval, store := testSetup(t)

	// Two quick transactions in the same city must not fire.
	for i := 0; i < 2; i++ {
		ev := txn(fmt.Sprintf("e%d", i), "acc-1", baseTime.Add(time.Duration(i)*time.Minute), 20)
		ev.CardID = "card-1"
		ev.MerchantCity = "Lisbon"
		results := feed(t, eval, store, ev)
		assert.NotContains(t, ruleIDs(results), "impossible-travel")
	}
}

func TestHighRiskReferenceRules(t *testing.T) {
	eval, store := testSetup(t)

	ev := txn("e1", "acc-1", baseTime, 20)
	ev.MerchantID = "merch-casino"
	ev.MerchantCountry = "KP"
	ev.MerchantCity = "Shadowville"

	ids := ruleIDs(feed(t, eval, store, ev))
	assert.Contains(t, ids, "high-risk-mcc")
	assert.Contains(t, ids, "high-risk-country")
	assert.Contains(t, ids, "high-risk-city")

	// Unknown merchant: the MCC rule is skipped, the others still run.
	ev2 := txn("e2", "acc-2", baseTime, 20)
	ev2.MerchantID = "merch-unknown"
	ids = ruleIDs(feed(t, eval, store, ev2))
	assert.NotContains(t, ids, "high-risk-mcc")
	assert.Equal(t, int64(1), eval.Skipped())
}

func TestClosureRecheckHonorsCooldown(t *testing.T) {
	eval, store := testSetup(t)

	// Trip the velocity rule, then re-check the same window at eviction:
	// the cooldown absorbs the duplicate.
	var lastUpdate aggstore.Update
	for i := 0; i < 11; i++ {
		ev := txn(fmt.Sprintf("e%d", i), "acc-1", baseTime.Add(time.Duration(i)*time.Second), 10)
		updates, err := store.Apply(ev)
		require.NoError(t, err)
		for _, u := range updates {
			if u.Key.SpecID == SpecTxnAccount1m {
				lastUpdate = u
			}
			eval.EvaluateUpdate(u)
		}
	}

	again := eval.EvaluateClosure(lastUpdate)
	assert.Empty(t, again)
}

func TestDisabledRules(t *testing.T) {
	cfg := config.DefaultConfig().Rules
	cfg.Disabled = []string{"late-night-activity", "velocity-burst"}

	catalog, err := DefaultCatalog(cfg)
	require.NoError(t, err)

	_, ok := catalog.Rule("late-night-activity")
	assert.False(t, ok)
	_, ok = catalog.Rule("velocity-burst")
	assert.False(t, ok)
	_, ok = catalog.Rule("large-amount")
	assert.True(t, ok)
}

func TestCatalogRejectsBadRules(t *testing.T) {
	c := NewCatalog(DefaultSpecs(config.DefaultConfig().Rules))

	err := c.Register(&Rule{ID: "orphan", Score: 10, SpecID: "no-such-spec"})
	assert.Error(t, err)

	err = c.Register(&Rule{ID: "both", Score: 10, SpecID: SpecTxnAccount1m,
		Check: func(context.Context, *event.Event, refdata.Provider) (bool, string, error) {
			return false, "", nil
		}})
	assert.Error(t, err)

	ok := &Rule{ID: "fine", Score: 10, SpecID: SpecTxnAccount1m,
		Predicate: Predicate{Field: FieldCount, Op: OpGreaterThan, Threshold: 1}}
	require.NoError(t, c.Register(ok))
	err = c.Register(ok)
	assert.Error(t, err) // duplicate id
}

func TestPredicateGuards(t *testing.T) {
	p := Predicate{
		Field:       FieldElapsed,
		Op:          OpLessThan,
		Within:      15 * time.Minute,
		MinCount:    2,
		MinDistinct: map[string]int{"city": 2},
	}

	// One event: elapsed 0 but the count guard holds it back.
	snap := aggstore.Snapshot{Count: 1, MinTS: baseTime, MaxTS: baseTime, Distinct: map[string]int{"city": 1}}
	assert.False(t, p.Eval(snap))

	snap = aggstore.Snapshot{Count: 2, MinTS: baseTime, MaxTS: baseTime.Add(5 * time.Minute), Distinct: map[string]int{"city": 2}}
	assert.True(t, p.Eval(snap))

	snap.MaxTS = baseTime.Add(20 * time.Minute)
	assert.False(t, p.Eval(snap))
}
