package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once a Policy runs out of attempts.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a Retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy is used when a caller passes a zero Policy.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as safe to retry. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// sleep is swapped out in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, or the policy is spent.
// Exhaustion returns an error matching both ErrExhausted and the last failure.
func Retry(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := sleep(ctx, CalculateRetryDelay(attempt, policy.BaseDelay)); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt-1, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, policy.MaxAttempts, lastErr)
}
