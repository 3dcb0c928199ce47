package aggstore

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/meridianbank/sentinel/pkg/event"
)

// WindowKind selects the windowing semantics for a spec.
type WindowKind int

const (
	// Tumbling windows are fixed, non-overlapping buckets addressed by
	// (key, floor(timestamp/size)).
	Tumbling WindowKind = iota
	// Rolling windows are addressed by key alone and track running
	// aggregates since the oldest still-retained event. They are evicted
	// after an idle timeout.
	Rolling
	// Unbounded windows are rolling windows with a long retention,
	// used for identity-reuse checks (e.g. one card hash seen across
	// multiple accounts).
	Unbounded
)

func (k WindowKind) String() string {
	switch k {
	case Tumbling:
		return "tumbling"
	case Rolling:
		return "rolling"
	case Unbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// Window describes the temporal shape of an aggregation.
type Window struct {
	Kind WindowKind
	// Size is the bucket size for tumbling windows; ignored otherwise.
	Size time.Duration
}

// DistinctFn extracts a distinct-tracked value from an event.
// Empty string means the event contributes nothing to the set.
type DistinctFn func(*event.Event) string

// Spec declares one incremental aggregation the store maintains:
// which dimension keys it, which events feed it, and what it tracks.
// Rules reference specs by ID.
type Spec struct {
	ID        string
	Dimension event.Dimension
	Window    Window

	// Filter restricts which events feed the aggregate (nil = all).
	Filter func(*event.Event) bool

	// Distinct names the capped distinct sets this aggregate tracks,
	// e.g. {"ip": ipExtractor, "city": cityExtractor}.
	Distinct map[string]DistinctFn

	// Retention overrides the store default for this spec's evicted-after
	// duration (tumbling: grace after bucket end; rolling: idle timeout).
	// Zero means use the store default.
	Retention time.Duration
}

// Key identifies one window instance: a spec, a dimension value, and for
// tumbling windows the bucket it falls in.
type Key struct {
	SpecID    string
	Dimension event.Dimension
	Value     string
	// BucketStart/BucketEnd are zero for rolling and unbounded windows.
	BucketStart time.Time
	BucketEnd   time.Time
}

// Identity renders the key as a stable string, used for map addressing,
// alert dedupe and sink idempotency.
func (k Key) Identity() string {
	if k.BucketStart.IsZero() {
		return fmt.Sprintf("%s|%s=%s", k.SpecID, k.Dimension, k.Value)
	}
	return fmt.Sprintf("%s|%s=%s|%d", k.SpecID, k.Dimension, k.Value, k.BucketStart.Unix())
}

// keyFor derives the window key a spec assigns to an event.
func (s *Spec) keyFor(ev *event.Event, value string) Key {
	k := Key{SpecID: s.ID, Dimension: s.Dimension, Value: value}
	if s.Window.Kind == Tumbling {
		k.BucketStart = ev.Timestamp.Truncate(s.Window.Size)
		k.BucketEnd = k.BucketStart.Add(s.Window.Size)
	}
	return k
}

// ShardFor maps a dimension value onto one of n shards. The router and the
// store use the same hash so all updates for one key serialize through one
// worker.
func ShardFor(dim event.Dimension, value string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(dim))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return int(h.Sum32() % uint32(n))
}
