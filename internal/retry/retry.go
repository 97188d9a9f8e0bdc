// Package retry runs an operation with bounded attempts and backoff between
// them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// BackoffFunc returns the delay before retry number n (1-based).
type BackoffFunc func(n int) time.Duration

// Policy describes how an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff computes the sleep between attempts. Nil means no sleep.
	Backoff BackoffFunc
	// Retryable classifies errors. Nil means DefaultRetryable.
	Retryable Classifier
}

// ExhaustedError is returned when every allowed attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// DefaultRetryable treats everything except context errors as transient.
func DefaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Exponential returns a BackoffFunc starting at initial, multiplied by
// multiplier per retry, capped at max, with +/- jitter fraction applied.
func Exponential(initial, max time.Duration, multiplier, jitterFraction float64) BackoffFunc {
	return func(n int) time.Duration {
		d := float64(initial)
		for i := 1; i < n; i++ {
			d *= multiplier
			if d >= float64(max) {
				d = float64(max)
				break
			}
		}
		sleep := time.Duration(d) + jitter(time.Duration(d), jitterFraction)
		if sleep > max {
			sleep = max
		}
		if sleep < 0 {
			sleep = 0
		}
		return sleep
	}
}

// Constant returns a BackoffFunc that always waits d.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. fn receives the 1-based attempt number. Do returns the
// number of attempts made. A canceled ctx stops the loop with ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	classify := p.Retryable
	if classify == nil {
		classify = DefaultRetryable
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !classify(err) {
			return attempt, err
		}
		if attempt == maxRetries+1 {
			break
		}

		var sleep time.Duration
		if p.Backoff != nil {
			sleep = p.Backoff(attempt)
		}
		if sleep <= 0 {
			continue
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}

	return maxRetries + 1, &ExhaustedError{Attempts: maxRetries + 1, Err: lastErr}
}

// jitter returns a random duration in range [-fraction*d, +fraction*d].
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	r := float64(d) * fraction
	return time.Duration((rand.Float64() - 0.5) * 2 * r)
}
