// Package rules holds the fraud rule catalog and the evaluator that turns
// window aggregates and raw events into rule triggers. Rules come in two
// kinds: per-event rules inspect a single event (optionally consulting
// reference data), windowed rules compare one aggregate field against a
// threshold.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/refdata"
)

// Severity buckets rules for triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AggField selects which aggregate value a windowed predicate reads.
type AggField int

const (
	FieldCount AggField = iota
	FieldSum
	FieldDistinct
	FieldElapsed
)

func (f AggField) String() string {
	switch f {
	case FieldCount:
		return "count"
	case FieldSum:
		return "sum"
	case FieldDistinct:
		return "distinct"
	case FieldElapsed:
		return "elapsed"
	default:
		return "unknown"
	}
}

// Op is the comparison applied between field and threshold.
type Op int

const (
	OpGreaterThan Op = iota
	OpAtLeast
	OpLessThan
)

func (o Op) String() string {
	switch o {
	case OpGreaterThan:
		return ">"
	case OpAtLeast:
		return ">="
	case OpLessThan:
		return "<"
	default:
		return "?"
	}
}

// Predicate is a windowed rule's firing condition. Guards must all hold
// before the field comparison is consulted; a predicate with unmet guards
// never fires regardless of the field value.
type Predicate struct {
	Field AggField
	// Distinct names the tracked set when Field is FieldDistinct.
	Distinct string
	Op       Op
	// Threshold compares against count/sum/distinct values.
	Threshold float64
	// Within compares against elapsed time when Field is FieldElapsed.
	Within time.Duration

	// Guards: minimum event count and per-set minimum cardinalities that
	// must hold before the comparison applies.
	MinCount    int64
	MinDistinct map[string]int
}

// Eval applies the predicate to a window snapshot.
func (p Predicate) Eval(s aggstore.Snapshot) bool {
	if s.Count < p.MinCount {
		return false
	}
	for name, min := range p.MinDistinct {
		if s.DistinctCount(name) < min {
			return false
		}
	}

	switch p.Field {
	case FieldCount:
		return p.compare(float64(s.Count))
	case FieldSum:
		return p.compare(s.Sum)
	case FieldDistinct:
		return p.compare(float64(s.DistinctCount(p.Distinct)))
	case FieldElapsed:
		return p.compareDuration(s.Elapsed())
	default:
		return false
	}
}

func (p Predicate) compare(v float64) bool {
	switch p.Op {
	case OpGreaterThan:
		return v > p.Threshold
	case OpAtLeast:
		return v >= p.Threshold
	case OpLessThan:
		return v < p.Threshold
	default:
		return false
	}
}

func (p Predicate) compareDuration(d time.Duration) bool {
	switch p.Op {
	case OpGreaterThan:
		return d > p.Within
	case OpAtLeast:
		return d >= p.Within
	case OpLessThan:
		return d < p.Within
	default:
		return false
	}
}

// String renders the condition for alert detail text.
func (p Predicate) String() string {
	switch p.Field {
	case FieldDistinct:
		return fmt.Sprintf("distinct(%s) %s %g", p.Distinct, p.Op, p.Threshold)
	case FieldElapsed:
		return fmt.Sprintf("elapsed %s %s", p.Op, p.Within)
	default:
		return fmt.Sprintf("%s %s %g", p.Field, p.Op, p.Threshold)
	}
}

// CheckFn is a per-event rule's firing condition. It returns whether the
// rule fired and a human-readable detail. Errors wrapping
// ErrReferenceDataUnavailable downgrade to a skipped rule.
type CheckFn func(ctx context.Context, ev *event.Event, ref refdata.Provider) (bool, string, error)

// Rule is one catalog entry. Exactly one of SpecID (windowed) or Check
// (per-event) is set.
type Rule struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	// Score contributes to alert ranking; a re-trigger only updates an
	// open alert if its score exceeds the recorded one.
	Score float64
	// Cooldown suppresses re-triggers of this rule for the same key.
	Cooldown time.Duration

	// Windowed rules
	SpecID    string
	Predicate Predicate

	// Per-event rules
	Check CheckFn
	// KeyDimension keys per-event triggers for alert dedupe and cooldown
	// (e.g. the offending account). Ignored for windowed rules.
	KeyDimension event.Dimension
}

// PerEvent reports whether the rule inspects single events.
func (r *Rule) PerEvent() bool {
	return r.Check != nil
}

// Validate checks structural consistency of a catalog entry.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Score <= 0 {
		return fmt.Errorf("rule %s: score must be positive", r.ID)
	}
	windowed := r.SpecID != ""
	perEvent := r.Check != nil
	if windowed == perEvent {
		return fmt.Errorf("rule %s: exactly one of spec id or check must be set", r.ID)
	}
	if perEvent && r.KeyDimension == "" {
		return fmt.Errorf("rule %s: per-event rules need a key dimension", r.ID)
	}
	return nil
}

// Result is one rule trigger, keyed so the alert manager can dedupe
// against open alerts.
type Result struct {
	Rule *Rule
	// Key is the window key for windowed rules, or a synthetic
	// (rule id, dimension value) key for per-event rules.
	Key aggstore.Key
	// Snapshot is zero-valued for per-event triggers.
	Snapshot aggstore.Snapshot
	Detail   string
	EventID  string
	// TriggeredAt is event time, not wall clock.
	TriggeredAt time.Time
}
