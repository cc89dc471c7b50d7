package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// PermanentError stops a retry loop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryResult holds the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// RetryWithBackoff calls fn up to maxAttempts times, sleeping between attempts
// according to policy.
//
// fn receives the 1-indexed attempt number. An error wrapped with Permanent
// ends the loop at once and is returned unwrapped. When every attempt fails
// the returned error matches both ErrMaxAttemptsExhausted and the last error.
// Context cancellation is checked before each attempt and during sleeps.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			result.LastError = perm.Err
			return result, perm.Err
		}
		result.LastError = err

		if attempt < maxAttempts {
			if err := wait(ctx, ComputeBackoff(policy, attempt)); err != nil {
				return result, err
			}
		}
	}

	return result, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExhausted, result.Attempts, result.LastError)
}

// RetrySimple retries fn with the given policy, for calls without a result.
func RetrySimple(ctx context.Context, policy BackoffPolicy, maxAttempts int, fn func(attempt int) error) error {
	_, err := RetryWithBackoff(ctx, policy, maxAttempts, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
