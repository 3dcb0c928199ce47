package aggstore

import (
	"time"

	"github.com/meridianbank/sentinel/pkg/event"
)

// DistinctSet tracks distinct values up to a cardinality cap. Beyond the
// cap new values only bump an overflow counter, so the reported count is a
// conservative lower bound. Rule thresholds in the catalog sit far below
// any sane cap, so overflow never affects a firing decision.
type DistinctSet struct {
	values   map[string]struct{}
	cap      int
	overflow int
}

// NewDistinctSet creates a capped distinct tracker.
func NewDistinctSet(cap int) *DistinctSet {
	return &DistinctSet{
		values: make(map[string]struct{}),
		cap:    cap,
	}
}

// Add records a value. Returns true if the value was not seen before
// (best effort once the set has overflowed).
func (d *DistinctSet) Add(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := d.values[v]; ok {
		return false
	}
	if len(d.values) >= d.cap {
		d.overflow++
		return true
	}
	d.values[v] = struct{}{}
	return true
}

// Count returns the tracked cardinality: exact below the cap, a lower
// bound above it.
func (d *DistinctSet) Count() int {
	return len(d.values) + d.overflow
}

// Overflowed reports whether the cap has been exceeded.
func (d *DistinctSet) Overflowed() bool {
	return d.overflow > 0
}

// aggregate is the mutable per-key window state. It is owned by exactly
// one shard and never escapes; readers get a Snapshot.
type aggregate struct {
	count       int64
	sum         float64
	minTS       time.Time
	maxTS       time.Time
	distinct    map[string]*DistinctSet
	lastEventID string
}

func newAggregate(spec *Spec, distinctCap int) *aggregate {
	a := &aggregate{}
	if len(spec.Distinct) > 0 {
		a.distinct = make(map[string]*DistinctSet, len(spec.Distinct))
		for name := range spec.Distinct {
			a.distinct[name] = NewDistinctSet(distinctCap)
		}
	}
	return a
}

func (a *aggregate) apply(spec *Spec, ev *event.Event) {
	a.count++
	a.sum += ev.Amount
	if a.minTS.IsZero() || ev.Timestamp.Before(a.minTS) {
		a.minTS = ev.Timestamp
	}
	if ev.Timestamp.After(a.maxTS) {
		a.maxTS = ev.Timestamp
	}
	for name, fn := range spec.Distinct {
		a.distinct[name].Add(fn(ev))
	}
	a.lastEventID = ev.ID
}

// valid checks internal invariants. A violation means the key's state is
// corrupt and gets reset, shard-locally, without touching other keys.
func (a *aggregate) valid() bool {
	if a.count < 0 {
		return false
	}
	if !a.minTS.IsZero() && a.maxTS.Before(a.minTS) {
		return false
	}
	return true
}

// Snapshot is an immutable view of one window's aggregate, handed to the
// rule evaluator and to closure re-checks at eviction time.
type Snapshot struct {
	Key         Key
	Count       int64
	Sum         float64
	MinTS       time.Time
	MaxTS       time.Time
	Distinct    map[string]int
	LastEventID string
}

func (a *aggregate) snapshot(key Key) Snapshot {
	s := Snapshot{
		Key:         key,
		Count:       a.count,
		Sum:         a.sum,
		MinTS:       a.minTS,
		MaxTS:       a.maxTS,
		LastEventID: a.lastEventID,
	}
	if len(a.distinct) > 0 {
		s.Distinct = make(map[string]int, len(a.distinct))
		for name, set := range a.distinct {
			s.Distinct[name] = set.Count()
		}
	}
	return s
}

// Elapsed is the span between the first and last event in the window.
func (s Snapshot) Elapsed() time.Duration {
	if s.MinTS.IsZero() || s.MaxTS.IsZero() {
		return 0
	}
	return s.MaxTS.Sub(s.MinTS)
}

// DistinctCount returns the tracked cardinality for a named set.
func (s Snapshot) DistinctCount(name string) int {
	return s.Distinct[name]
}
