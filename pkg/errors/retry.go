package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines backoff behavior for failed deliveries.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retries (0 = try once, -1 = infinite)
	MaxAttempts int
	// InitialBackoff is the first backoff duration
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential factor (default 2.0)
	BackoffMultiplier float64
	// Jitter adds randomness to avoid thundering herd (0.0-1.0)
	Jitter float64
	// RetriableFunc decides whether an error is worth retrying
	RetriableFunc func(error) bool
}

// DefaultRetryPolicy returns the policy used by the alert dispatcher.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetriableFunc:     IsRetriable,
	}
}

// RetryResult describes the outcome of an Execute call.
type RetryResult struct {
	Success      bool
	Attempts     int
	LastError    error
	TotalBackoff time.Duration
}

// Execute runs the operation, retrying per the policy. It respects context
// cancellation while sleeping between attempts.
func (rp *RetryPolicy) Execute(ctx context.Context, operation func(ctx context.Context) error) *RetryResult {
	result := &RetryResult{}

	for attempt := 0; rp.MaxAttempts < 0 || attempt <= rp.MaxAttempts; attempt++ {
		result.Attempts++

		err := operation(ctx)
		if err == nil {
			result.Success = true
			return result
		}
		result.LastError = err

		if rp.RetriableFunc != nil && !rp.RetriableFunc(err) {
			return result
		}
		if rp.MaxAttempts >= 0 && attempt >= rp.MaxAttempts {
			return result
		}

		backoff := rp.NextBackoff(attempt)
		result.TotalBackoff += backoff

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			return result
		case <-time.After(backoff):
		}
	}

	return result
}

// NextBackoff returns the backoff duration for a given attempt number.
func (rp *RetryPolicy) NextBackoff(attempt int) time.Duration {
	multiplier := rp.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(rp.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if backoff > float64(rp.MaxBackoff) {
		backoff = float64(rp.MaxBackoff)
	}
	if rp.Jitter > 0 {
		jitterAmount := backoff * rp.Jitter
		backoff += (rand.Float64()*2 - 1) * jitterAmount
		if backoff < 0 {
			backoff = float64(rp.InitialBackoff)
		}
	}
	return time.Duration(backoff)
}
