package transfer

import (
	"context"
	"time"
)

// RetryPolicy describes how an operation is retried: attempt ceiling,
// exponential backoff schedule, and a predicate deciding which errors are
// worth retrying. The backoff is jitterless; chunk workers sleep
// independently so synchronized retries across workers are not a concern
// at this scale.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy returns the chunk-fetch policy: 5 attempts,
// exponential backoff starting at 1s and capped at 10s.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
		Retryable:   retryable,
	}
}

// Backoff returns the sleep duration before the given retry. The first
// retry (attempt 1) sleeps BaseBackoff, doubling each attempt up to
// MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseBackoff << uint(attempt-1)
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	return d
}

// Do runs op up to MaxAttempts times, sleeping between attempts. It stops
// early when op succeeds, when the error is not retryable, or when ctx is
// cancelled. Only the calling goroutine sleeps; unrelated workers are
// never blocked by a retry.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
