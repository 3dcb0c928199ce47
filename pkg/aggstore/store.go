package aggstore

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/event"
)

// Config holds the store's global parameters.
type Config struct {
	// Shards is the number of independently locked partitions.
	Shards int
	// MaxLateness is the out-of-order tolerance; older events are rejected.
	MaxLateness time.Duration
	// DistinctCap bounds every distinct set's exact cardinality.
	DistinctCap int
	// Retention is the grace period a tumbling bucket survives past its end.
	Retention time.Duration
	// IdleTimeout evicts rolling windows with no recent activity.
	IdleTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Shards:      32,
		MaxLateness: 5 * time.Minute,
		DistinctCap: 64,
		Retention:   24 * time.Hour,
		IdleTimeout: 24 * time.Hour,
	}
}

// Update reports one window touched by an event, with its post-apply state.
type Update struct {
	Key      Key
	Snapshot Snapshot
	// Late marks an event that arrived out of order (within tolerance)
	// relative to the newest event already in the window.
	Late bool
}

type entry struct {
	key     Key
	agg     *aggregate
	spec    *Spec
	touched time.Time // wall clock, drives idle eviction
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store maintains sliding/tumbling aggregates for every registered spec,
// sharded by dimension value so unrelated keys never contend.
type Store struct {
	cfg    Config
	logger *zap.Logger
	specs  []*Spec
	shards []*shard

	nowFn        func() time.Time
	lateRejected atomic.Int64
	resets       atomic.Int64
}

// New creates a store with the given specs. Specs are sorted by ID so
// Apply returns updates in a deterministic order.
func New(cfg Config, specs []*Spec, logger *zap.Logger) *Store {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultConfig().Shards
	}
	if cfg.DistinctCap <= 0 {
		cfg.DistinctCap = DefaultConfig().DistinctCap
	}
	sorted := make([]*Spec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}

	return &Store{
		cfg:    cfg,
		logger: logger,
		specs:  sorted,
		shards: shards,
		nowFn:  time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFn = now
	return s
}

// Specs returns the registered specs, sorted by ID.
func (s *Store) Specs() []*Spec {
	return s.specs
}

// Apply feeds one event into every spec it matches and returns the touched
// windows with their updated aggregates. Events older than MaxLateness are
// rejected with ErrLateEvent so callers can audit the drop.
func (s *Store) Apply(ev *event.Event) ([]Update, error) {
	now := s.nowFn()
	if lateness := now.Sub(ev.Timestamp); lateness > s.cfg.MaxLateness {
		s.lateRejected.Add(1)
		return nil, senterrors.LateEvent(ev.ID, lateness)
	}

	var updates []Update
	for _, spec := range s.specs {
		value := ev.DimensionValue(spec.Dimension)
		if value == "" {
			continue
		}
		if spec.Filter != nil && !spec.Filter(ev) {
			continue
		}
		updates = append(updates, s.applyOne(spec, ev, value, now))
	}
	return updates, nil
}

func (s *Store) applyOne(spec *Spec, ev *event.Event, value string, now time.Time) Update {
	key := spec.keyFor(ev, value)
	id := key.Identity()
	sh := s.shards[ShardFor(key.Dimension, key.Value, len(s.shards))]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[id]
	if !ok {
		e = &entry{key: key, agg: newAggregate(spec, s.cfg.DistinctCap), spec: spec}
		sh.entries[id] = e
	}

	late := !e.agg.maxTS.IsZero() && ev.Timestamp.Before(e.agg.maxTS)
	e.agg.apply(spec, ev)
	e.touched = now

	if !e.agg.valid() {
		// Corrupt state is reset for this key only; the event that
		// exposed it still counts toward the fresh aggregate.
		s.resets.Add(1)
		s.logger.Error("aggregate invariant violation, resetting key",
			zap.String("window_key", id))
		e.agg = newAggregate(spec, s.cfg.DistinctCap)
		e.agg.apply(spec, ev)
	}

	return Update{Key: key, Snapshot: e.agg.snapshot(key), Late: late}
}

// Snapshot returns the current aggregate for a window key, if present.
func (s *Store) Snapshot(key Key) (Snapshot, bool) {
	sh := s.shards[ShardFor(key.Dimension, key.Value, len(s.shards))]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key.Identity()]
	if !ok {
		return Snapshot{}, false
	}
	return e.agg.snapshot(e.key), true
}

// Evict removes windows past retention and returns their final snapshots,
// so rules pending a re-check on close see the closing values. Sweeps take
// each shard's lock in turn; they serialize with updates on that shard
// only.
func (s *Store) Evict(now time.Time) []Update {
	var closed []Update
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if !s.expired(e, now) {
				continue
			}
			closed = append(closed, Update{Key: e.key, Snapshot: e.agg.snapshot(e.key)})
			delete(sh.entries, id)
		}
		sh.mu.Unlock()
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].Key.Identity() < closed[j].Key.Identity()
	})
	return closed
}

func (s *Store) expired(e *entry, now time.Time) bool {
	retention := e.spec.Retention
	switch e.spec.Window.Kind {
	case Tumbling:
		if retention == 0 {
			retention = s.cfg.Retention
		}
		return now.After(e.key.BucketEnd.Add(retention))
	case Rolling:
		if retention == 0 {
			retention = s.cfg.IdleTimeout
		}
		return now.Sub(e.touched) > retention
	case Unbounded:
		// Unbounded specs only expire when an explicit retention is set.
		return retention > 0 && now.Sub(e.touched) > retention
	default:
		return false
	}
}

// LateRejected returns the number of events dropped for excess lateness.
func (s *Store) LateRejected() int64 {
	return s.lateRejected.Load()
}

// Resets returns the number of shard-local key resets after invariant
// violations.
func (s *Store) Resets() int64 {
	return s.resets.Load()
}

// Size returns the number of live window entries across all shards.
func (s *Store) Size() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}
