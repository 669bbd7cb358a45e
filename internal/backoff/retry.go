package backoff

import (
	"context"
	"errors"
	"fmt"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been
// exhausted without a successful call. The returned error wraps this
// sentinel (match it with errors.Is) and carries the final attempt's error
// text in its message; that last error itself is not wrapped.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Result holds the outcome of a retried call: the value on eventual
// success, how many attempts it took, and (on failure) the error from the
// final attempt.
type Result[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// WithBackoff calls fn up to maxAttempts times, sleeping between attempts
// per policy, and returns on the first success or once attempts (or ctx)
// are exhausted. fn receives the 1-indexed attempt number, which
// internal/turn uses to label retry metrics and internal/mcp uses purely
// for logging.
//
// Context cancellation is checked before each attempt and during the
// inter-attempt sleep, so a cancelled ctx short-circuits immediately
// rather than waiting out the full backoff.
func WithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}
		result.LastError = err

		if attempt < maxAttempts {
			if sleepErr := SleepWithBackoff(ctx, policy, attempt); sleepErr != nil {
				return result, sleepErr
			}
		}
	}

	return result, fmt.Errorf("%w: %v", ErrMaxAttemptsExhausted, result.LastError)
}

// RetryFunc runs fn under DefaultPolicy, returning just the value and
// error rather than a Result.
func RetryFunc[T any](
	ctx context.Context,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (T, error) {
	result, err := WithBackoff(ctx, DefaultPolicy(), maxAttempts, fn)
	return result.Value, err
}

// RetrySimple runs a no-return-value fn under DefaultPolicy. Used by
// internal/mcp/manager.go to retry a server connect attempt against a
// subprocess that may not be listening on stdin yet.
func RetrySimple(
	ctx context.Context,
	maxAttempts int,
	fn func() error,
) error {
	_, err := WithBackoff(ctx, DefaultPolicy(), maxAttempts, func(_ int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
