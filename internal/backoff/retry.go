package backoff

import (
	"context"
	"time"
)

// Sleep waits for the given duration, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Retry executes fn up to 1+maxRetries times, sleeping per the policy
// between attempts. retryable decides whether a given error is worth
// retrying; a nil predicate retries everything. The last error is
// returned once attempts are exhausted or a non-retryable error occurs.
// onDelay, when non-nil, observes each computed delay (used by tests).
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxRetries int,
	retryable func(error) bool,
	onDelay func(time.Duration),
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn()
		if err == nil {
			return value, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt > maxRetries {
			break
		}

		delay := policy.Delay(attempt)
		if onDelay != nil {
			onDelay(delay)
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
