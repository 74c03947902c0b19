package queue

import "time"

// RetryStrategy maps a failed attempt count to the delay before the next
// retry. Strategies must be safe for concurrent use (stateless).
type RetryStrategy func(attempt int) time.Duration

// DefaultRetryStrategy doubles the delay each attempt, capped at 30 seconds:
// min(1s * 2^attempt, 30s).
func DefaultRetryStrategy(attempt int) time.Duration {
	d := time.Second << attempt
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ConstantRetryStrategy always waits the same interval between retries.
func ConstantRetryStrategy(interval time.Duration) RetryStrategy {
	return func(int) time.Duration { return interval }
}

// LinearRetryStrategy grows the delay linearly with the attempt count,
// capped at maxDelay when maxDelay > 0.
func LinearRetryStrategy(initial, maxDelay time.Duration) RetryStrategy {
	return func(attempt int) time.Duration {
		d := initial * time.Duration(attempt)
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	}
}
