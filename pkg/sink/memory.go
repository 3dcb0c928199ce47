package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/meridianbank/sentinel/pkg/alert"
)

var errDeliveryRefused = errors.New("delivery refused")

// MemorySink collects mutations in memory. Used in tests and for local
// runs without downstream infrastructure.
type MemorySink struct {
	name string

	mu        sync.Mutex
	mutations []alert.Mutation
	failUntil int // Deliver errors for the first failUntil calls
	calls     int
	closed    bool
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink(name string) *MemorySink {
	if name == "" {
		name = "memory"
	}
	return &MemorySink{name: name}
}

// FailFirst makes the next n Deliver calls return an error, for
// exercising retry behavior.
func (m *MemorySink) FailFirst(n int) *MemorySink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUntil = n
	return m
}

// Name returns the sink name.
func (m *MemorySink) Name() string {
	return m.name
}

// Deliver records the mutation.
func (m *MemorySink) Deliver(_ context.Context, mut alert.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls <= m.failUntil {
		return errDeliveryRefused
	}
	m.mutations = append(m.mutations, mut)
	return nil
}

// Mutations returns a copy of everything delivered so far.
func (m *MemorySink) Mutations() []alert.Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alert.Mutation, len(m.mutations))
	copy(out, m.mutations)
	return out
}

// Calls returns the number of Deliver attempts, including failed ones.
func (m *MemorySink) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the sink closed.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
