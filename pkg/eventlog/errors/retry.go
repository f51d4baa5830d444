package errors

import (
	"context"
	"time"
)

// RetrySchedule is a bounded retry policy. Delays[i] is the pause before
// attempt i, so the number of attempts is len(Delays).
type RetrySchedule struct {
	// Delays lists the wait before each attempt. The first entry is
	// normally zero.
	Delays []time.Duration

	// Retryable optionally overrides the default retryability check.
	Retryable func(error) bool
}

// DefaultReadRetry retries a read that raced an append: immediately, after
// 100ms, after a further second, then once more without waiting.
var DefaultReadRetry = RetrySchedule{
	Delays: []time.Duration{0, 100 * time.Millisecond, 1000 * time.Millisecond, 0},
}

// NoRetry disables retries.
var NoRetry = RetrySchedule{
	Delays: []time.Duration{0},
}

// Attempts returns the number of attempts the schedule allows.
func (s RetrySchedule) Attempts() int {
	if len(s.Delays) == 0 {
		return 1
	}
	return len(s.Delays)
}

// WithRetryable returns a copy of s that uses fn to decide retryability.
func (s RetrySchedule) WithRetryable(fn func(error) bool) RetrySchedule {
	s.Retryable = fn
	return s
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result of the last attempt.
	Value T

	// Err is the error of the last attempt, returned as-is.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent, including backoff.
	Duration time.Duration
}

// Retry runs fn according to the schedule. Non-retryable errors stop
// immediately. When every attempt fails with a retryable error the final
// attempt's error is returned unchanged. Cancellation during a backoff
// returns the context error.
func Retry[T any](ctx context.Context, s RetrySchedule, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	isRetryable := s.Retryable
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	var (
		value T
		err   error
	)
	attempts := s.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt < len(s.Delays) && s.Delays[attempt] > 0 {
			timer := time.NewTimer(s.Delays[attempt])
			select {
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return RetryResult[T]{Value: zero, Err: ctx.Err(), Attempts: attempt, Duration: time.Since(start)}
			case <-timer.C:
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			var zero T
			return RetryResult[T]{Value: zero, Err: cerr, Attempts: attempt, Duration: time.Since(start)}
		}

		value, err = fn(ctx)
		if err == nil || !isRetryable(err) {
			return RetryResult[T]{Value: value, Err: err, Attempts: attempt + 1, Duration: time.Since(start)}
		}
	}

	return RetryResult[T]{Value: value, Err: err, Attempts: attempts, Duration: time.Since(start)}
}
