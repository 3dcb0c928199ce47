package rules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/refdata"
)

// Evaluator runs the catalog against events and window updates. It owns
// the per-(rule, key) cooldown state; the catalog itself is immutable and
// swapped atomically on config reload, so one evaluator is safely shared
// by all shard workers.
type Evaluator struct {
	catalog atomic.Pointer[Catalog]
	ref     refdata.Provider
	logger  *zap.Logger

	cooldowns *cooldownTable
	skipped   atomic.Int64
}

// NewEvaluator wires a catalog to its reference data source.
func NewEvaluator(catalog *Catalog, ref refdata.Provider, logger *zap.Logger) *Evaluator {
	e := &Evaluator{
		ref:       ref,
		logger:    logger,
		cooldowns: newCooldownTable(),
	}
	e.catalog.Store(catalog)
	return e
}

// ReplaceCatalog swaps in a rebuilt catalog, typically after a config
// reload changed thresholds or cooldowns. Cooldown history carries over:
// rule and key identities are stable across reloads.
func (e *Evaluator) ReplaceCatalog(catalog *Catalog) {
	e.catalog.Store(catalog)
	e.logger.Info("rule catalog replaced", zap.Int("rules", len(catalog.Rules())))
}

// EvaluateEvent runs every per-event rule against one event, in rule id
// order. Rules whose reference lookups fail are skipped, not failed.
func (e *Evaluator) EvaluateEvent(ctx context.Context, ev *event.Event) []Result {
	var results []Result
	for _, rule := range e.catalog.Load().PerEventRules() {
		value := ev.DimensionValue(rule.KeyDimension)
		if value == "" {
			continue
		}

		fired, detail, err := rule.Check(ctx, ev, e.ref)
		if err != nil {
			if errors.Is(err, senterrors.ErrReferenceDataUnavailable) {
				e.skipped.Add(1)
				e.logger.Debug("rule skipped, reference data unavailable",
					zap.String("rule", rule.ID),
					zap.String("event_id", ev.ID),
					zap.Error(err))
				continue
			}
			e.logger.Warn("per-event rule failed",
				zap.String("rule", rule.ID),
				zap.String("event_id", ev.ID),
				zap.Error(err))
			continue
		}
		if !fired {
			continue
		}

		key := aggstore.Key{SpecID: rule.ID, Dimension: rule.KeyDimension, Value: value}
		if !e.cooldowns.allow(rule, key.Identity(), ev.Timestamp) {
			continue
		}
		results = append(results, Result{
			Rule:        rule,
			Key:         key,
			Detail:      detail,
			EventID:     ev.ID,
			TriggeredAt: ev.Timestamp,
		})
	}
	return results
}

// EvaluateUpdate runs the windowed rules fed by the touched spec against
// the post-apply snapshot.
func (e *Evaluator) EvaluateUpdate(u aggstore.Update) []Result {
	return e.evaluateWindow(u)
}

// EvaluateClosure re-checks a window's final snapshot at eviction, so a
// threshold crossed by the last few events still alerts. Cooldowns apply
// as usual, making the re-check a no-op for already-alerted keys.
func (e *Evaluator) EvaluateClosure(u aggstore.Update) []Result {
	return e.evaluateWindow(u)
}

func (e *Evaluator) evaluateWindow(u aggstore.Update) []Result {
	var results []Result
	for _, rule := range e.catalog.Load().RulesForSpec(u.Key.SpecID) {
		if !rule.Predicate.Eval(u.Snapshot) {
			continue
		}
		if !e.cooldowns.allow(rule, u.Key.Identity(), u.Snapshot.MaxTS) {
			continue
		}
		results = append(results, Result{
			Rule:        rule,
			Key:         u.Key,
			Snapshot:    u.Snapshot,
			Detail:      rule.Predicate.String(),
			EventID:     u.Snapshot.LastEventID,
			TriggeredAt: u.Snapshot.MaxTS,
		})
	}
	return results
}

// Skipped returns how many rule checks were skipped on unavailable
// reference data.
func (e *Evaluator) Skipped() int64 {
	return e.skipped.Load()
}

// Prune drops cooldown entries last fired before the horizon.
func (e *Evaluator) Prune(before time.Time) int {
	return e.cooldowns.prune(before)
}

const cooldownShards = 16

// cooldownTable records the last firing time per (rule, key), sharded to
// keep contention away from the hot path.
type cooldownTable struct {
	shards [cooldownShards]struct {
		mu   sync.Mutex
		last map[string]time.Time
	}
}

func newCooldownTable() *cooldownTable {
	t := &cooldownTable{}
	for i := range t.shards {
		t.shards[i].last = make(map[string]time.Time)
	}
	return t
}

// allow reports whether a rule may fire for a key at the given event time,
// recording the firing if so. Event time, not wall clock, drives the
// cooldown so replays behave identically.
func (t *cooldownTable) allow(rule *Rule, keyID string, at time.Time) bool {
	if rule.Cooldown <= 0 {
		return true
	}
	id := rule.ID + "|" + keyID
	sh := &t.shards[fnvIndex(id)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if last, ok := sh.last[id]; ok && at.Sub(last) < rule.Cooldown {
		return false
	}
	sh.last[id] = at
	return true
}

func (t *cooldownTable) prune(before time.Time) int {
	removed := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for id, last := range sh.last {
			if last.Before(before) {
				delete(sh.last, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func fnvIndex(s string) int {
	// FNV-32a, inlined to avoid allocating a hasher per check.
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h % cooldownShards)
}
