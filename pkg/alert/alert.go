// Package alert owns the alert lifecycle: creation from rule triggers,
// dedupe against open alerts, analyst-driven status transitions, and
// delivery of every mutation to the configured sinks.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridianbank/sentinel/pkg/rules"
)

// Status is an alert's position in the investigation lifecycle.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusClosed        Status = "closed"
	StatusFalsePositive Status = "false_positive"
)

// Terminal reports whether the status ends the lifecycle. Terminal alerts
// are immutable apart from audit notes.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFalsePositive
}

// transitions lists the allowed moves. Open alerts may jump straight to a
// terminal state without passing through investigating.
var transitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusClosed, StatusFalsePositive},
	StatusInvestigating: {StatusClosed, StatusFalsePositive},
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusClosed, StatusFalsePositive:
		return true
	default:
		return false
	}
}

// Note is one audit trail entry. Notes may be added in any state,
// including terminal ones.
type Note struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Alert is one case raised by a rule for a window key. There is at most
// one non-terminal alert per (rule id, window key); re-triggers fold into
// it instead of opening duplicates.
type Alert struct {
	ID       string         `json:"alert_id"`
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Severity rules.Severity `json:"severity"`
	// Score is the highest score seen across re-triggers.
	Score float64 `json:"score"`

	// WindowKey is the stable identity of the triggering window, shared
	// with sink idempotency keys.
	WindowKey string `json:"window_key"`
	Dimension string `json:"dimension"`
	Value     string `json:"value"`

	Status Status `json:"status"`
	Detail string `json:"detail"`
	// EventID is the event whose arrival (or whose window's closure)
	// last triggered the rule.
	EventID string `json:"event_id"`
	// TriggerCount is how many triggers folded into this alert.
	TriggerCount int `json:"trigger_count"`

	TriggeredAt time.Time `json:"triggered_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Notes       []Note    `json:"notes,omitempty"`
}

// newAlert builds an open alert from a rule trigger.
func newAlert(res rules.Result, now time.Time) *Alert {
	return &Alert{
		ID:           uuid.NewString(),
		RuleID:       res.Rule.ID,
		RuleName:     res.Rule.Name,
		Severity:     res.Rule.Severity,
		Score:        res.Rule.Score,
		WindowKey:    res.Key.Identity(),
		Dimension:    string(res.Key.Dimension),
		Value:        res.Key.Value,
		Status:       StatusOpen,
		Detail:       res.Detail,
		EventID:      res.EventID,
		TriggerCount: 1,
		TriggeredAt:  res.TriggeredAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// clone returns a deep copy safe to hand outside the manager's lock.
func (a *Alert) clone() Alert {
	c := *a
	if len(a.Notes) > 0 {
		c.Notes = append([]Note(nil), a.Notes...)
	}
	return c
}
