package engine

import (
	"sync"
	"time"
)

// dedupeTable remembers processed event ids for a bounded retention so
// exact-duplicate redelivery (at-least-once sources, replays) is absorbed
// without double-counting.
type dedupeTable struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupeTable() *dedupeTable {
	return &dedupeTable{seen: make(map[string]time.Time)}
}

// observe records an event id, reporting whether it was already present.
func (t *dedupeTable) observe(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[id]; dup {
		return true
	}
	t.seen[id] = now
	return false
}

// prune drops ids first seen before the horizon and returns the number
// removed. Duplicates arriving later than the retention window are
// indistinguishable from new events, which is the documented bound.
func (t *dedupeTable) prune(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, at := range t.seen {
		if at.Before(before) {
			delete(t.seen, id)
			removed++
		}
	}
	return removed
}

func (t *dedupeTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
