// Package retry wraps an operation with bounded attempts and exponential
// backoff. The wait after attempt n is BaseDelay * 2^n, so with the default
// one-second base the schedule is 2s, 4s, ...
package retry

import (
	"context"
	"time"
)

// Policy parameterizes a resilient call.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay scales the backoff schedule. Defaults to one second.
	BaseDelay time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries every error.
	Retryable func(error) bool
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or the context is cancelled. The error from the final
// attempt is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			return err
		}
		delay := base * time.Duration(1<<attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
