package backoff

import (
	"context"
	"time"
)

// SleepWithContext blocks for duration unless ctx is cancelled first, in
// which case it returns ctx.Err() immediately instead of waiting out the
// full duration. duration <= 0 returns immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepWithBackoff sleeps for ComputeBackoff(policy, attempt), honoring
// context cancellation the same way SleepWithContext does.
func SleepWithBackoff(ctx context.Context, policy BackoffPolicy, attempt int) error {
	return SleepWithContext(ctx, ComputeBackoff(policy, attempt))
}
