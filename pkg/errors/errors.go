package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// Sentinel errors for the engine's failure taxonomy. Callers match with
// errors.Is; wrapped variants carry the offending key or event id.
var (
	// ErrLateEvent is returned when an event is older than max_lateness.
	// The event is dropped and counted, never silently ignored.
	ErrLateEvent = errors.New("event rejected: older than allowed lateness")

	// ErrReferenceDataUnavailable means a reference lookup failed; the
	// per-event rule depending on it is skipped, other rules proceed.
	ErrReferenceDataUnavailable = errors.New("reference data unavailable")

	// ErrInvalidTransition is returned for an illegal alert status change.
	// No state is mutated.
	ErrInvalidTransition = errors.New("invalid alert status transition")

	// ErrSinkUnavailable means the alert sink rejected a delivery; the
	// mutation stays queued and is retried with backoff.
	ErrSinkUnavailable = errors.New("alert sink unavailable")

	// ErrDuplicateEvent marks an exact-duplicate redelivery, dropped to
	// keep aggregate application idempotent.
	ErrDuplicateEvent = errors.New("duplicate event id")
)

// LateEvent wraps ErrLateEvent with the event identity and its lateness.
func LateEvent(eventID string, lateness time.Duration) error {
	return fmt.Errorf("event %s late by %s: %w", eventID, lateness, ErrLateEvent)
}

// InvalidTransition wraps ErrInvalidTransition with the attempted change.
func InvalidTransition(alertID, from, to string) error {
	return fmt.Errorf("alert %s: %s -> %s: %w", alertID, from, to, ErrInvalidTransition)
}

// ErrorCategory classifies an error for retry handling.
type ErrorCategory int

const (
	// CategoryRetriable operations are retried with exponential backoff.
	CategoryRetriable ErrorCategory = iota
	// CategoryFatal operations are never retried.
	CategoryFatal
	// CategoryTransient operations can be retried after a brief delay.
	CategoryTransient
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryRetriable:
		return "retriable"
	case CategoryFatal:
		return "fatal"
	case CategoryTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Classify maps an error to its category. Late events, duplicates and
// invalid transitions are terminal facts about the input, not failures
// worth retrying; network-shaped errors are.
func Classify(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryFatal
	case errors.Is(err, ErrLateEvent),
		errors.Is(err, ErrDuplicateEvent),
		errors.Is(err, ErrInvalidTransition):
		return CategoryFatal
	case errors.Is(err, ErrSinkUnavailable),
		errors.Is(err, ErrReferenceDataUnavailable):
		return CategoryRetriable
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return CategoryRetriable
	case errors.Is(err, context.Canceled):
		return CategoryFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTransient
		}
		return CategoryRetriable
	}

	return CategoryFatal
}

// IsRetriable reports whether an error should be retried.
func IsRetriable(err error) bool {
	cat := Classify(err)
	return cat == CategoryRetriable || cat == CategoryTransient
}
