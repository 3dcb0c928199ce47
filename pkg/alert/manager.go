package alert

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/rules"
)

// MutationKind classifies what a trigger or transition did to an alert.
type MutationKind string

const (
	MutationCreated      MutationKind = "created"
	MutationUpdated      MutationKind = "updated"
	MutationSuppressed   MutationKind = "suppressed"
	MutationTransitioned MutationKind = "transitioned"
	MutationAnnotated    MutationKind = "annotated"
)

// Mutation is one observable change to an alert, delivered to sinks in
// the order the manager produced it.
type Mutation struct {
	Kind  MutationKind `json:"kind"`
	Alert Alert        `json:"alert"`
	At    time.Time    `json:"at"`
}

// Manager is the authoritative alert store. All lifecycle decisions run
// under its lock so the one-open-alert-per-(rule, key) invariant holds
// under concurrent shard workers.
type Manager struct {
	mu sync.Mutex

	byID map[string]*Alert
	// open indexes non-terminal alerts by rule id + window key.
	open map[string]*Alert

	logger *zap.Logger
	nowFn  func() time.Time
}

// NewManager creates an empty alert store.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		byID:   make(map[string]*Alert),
		open:   make(map[string]*Alert),
		logger: logger,
		nowFn:  time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.nowFn = now
	return m
}

func dedupeKey(ruleID, windowKey string) string {
	return ruleID + "|" + windowKey
}

// OnTrigger folds a rule trigger into the alert store: a new alert when
// no open one exists for the (rule, key), an update when the trigger's
// score beats the recorded one, a suppression otherwise.
func (m *Manager) OnTrigger(res rules.Result) Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	key := dedupeKey(res.Rule.ID, res.Key.Identity())

	existing, ok := m.open[key]
	if !ok {
		a := newAlert(res, now)
		m.byID[a.ID] = a
		m.open[key] = a
		m.logger.Info("alert created",
			zap.String("alert_id", a.ID),
			zap.String("rule", a.RuleID),
			zap.String("window_key", a.WindowKey),
			zap.Float64("score", a.Score))
		return Mutation{Kind: MutationCreated, Alert: a.clone(), At: now}
	}

	existing.TriggerCount++
	existing.UpdatedAt = now

	updated := false

	// Last-seen always advances: a repeat firing moves the alert's
	// triggered-at forward and points it at the newest evidence.
	if res.TriggeredAt.After(existing.TriggeredAt) {
		existing.TriggeredAt = res.TriggeredAt
		existing.EventID = res.EventID
		existing.Detail = res.Detail
		updated = true
	}

	// Max score wins: a weaker re-trigger never downgrades the score
	// already on the alert.
	if res.Rule.Score > existing.Score {
		existing.Score = res.Rule.Score
		existing.Detail = res.Detail
		existing.EventID = res.EventID
		updated = true
	}

	if updated {
		m.logger.Info("alert updated",
			zap.String("alert_id", existing.ID),
			zap.String("rule", existing.RuleID),
			zap.Float64("score", existing.Score),
			zap.Time("triggered_at", existing.TriggeredAt))
		return Mutation{Kind: MutationUpdated, Alert: existing.clone(), At: now}
	}

	// Out-of-order re-trigger with no stronger evidence: folded into the
	// count but not worth redelivering downstream.
	return Mutation{Kind: MutationSuppressed, Alert: existing.clone(), At: now}
}

// Transition moves an alert to a new status, recording an audit note.
// Terminal alerts reject all transitions.
func (m *Manager) Transition(alertID string, to Status, author, note string) (Mutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[alertID]
	if !ok {
		return Mutation{}, senterrors.InvalidTransition(alertID, "unknown", string(to))
	}
	if !to.Valid() || !a.Status.CanTransitionTo(to) {
		return Mutation{}, senterrors.InvalidTransition(alertID, string(a.Status), string(to))
	}

	now := m.nowFn()
	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	if note != "" {
		a.Notes = append(a.Notes, Note{Author: author, Text: note, At: now})
	}
	if to.Terminal() {
		delete(m.open, dedupeKey(a.RuleID, a.WindowKey))
	}

	m.logger.Info("alert transitioned",
		zap.String("alert_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("author", author))
	return Mutation{Kind: MutationTransitioned, Alert: a.clone(), At: now}, nil
}

// AddNote appends an audit note. Allowed in every state, terminal
// included.
func (m *Manager) AddNote(alertID, author, text string) (Mutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[alertID]
	if !ok {
		return Mutation{}, senterrors.InvalidTransition(alertID, "unknown", "note")
	}

	now := m.nowFn()
	a.Notes = append(a.Notes, Note{Author: author, Text: text, At: now})
	a.UpdatedAt = now
	return Mutation{Kind: MutationAnnotated, Alert: a.clone(), At: now}, nil
}

// Get returns a copy of an alert by id.
func (m *Manager) Get(alertID string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[alertID]
	if !ok {
		return Alert{}, false
	}
	return a.clone(), true
}

// List returns copies of all alerts matching the filter (nil = all),
// sorted by creation time then id for stable output.
func (m *Manager) List(filter func(*Alert) bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.byID {
		if filter == nil || filter(a) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenCount returns the number of non-terminal alerts.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Prune drops terminal alerts untouched since the horizon, returning how
// many were removed. Open alerts are never pruned.
func (m *Manager) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, a := range m.byID {
		if a.Status.Terminal() && a.UpdatedAt.Before(before) {
			delete(m.byID, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("pruned terminal alerts", zap.Int("removed", removed))
	}
	return removed
}
