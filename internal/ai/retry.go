package ai

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryPolicy controls how transient transport failures are retried with
// exponential backoff. It lives in the transport so callers see a single
// logical attempt.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 1s initial delay, 2x multiplier, 10s
// max delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// statusError carries the HTTP status of a failed response so the policy can
// classify it.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

// isRetryable treats network errors, timeouts, 429 and 5xx as transient.
// Other statuses and decode failures are permanent. Cancellation of the
// caller's context is never retried.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// NextDelay returns the backoff before attempt+1, where attempt is 1-indexed:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn until it succeeds, returns a permanent error, or MaxAttempts
// is reached. It returns the last error and the number of attempts made.
func (p RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := max(p.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts || !isRetryable(ctx, lastErr) {
			return attempt, lastErr
		}
		select {
		case <-ctx.Done():
			return attempt, lastErr
		case <-time.After(p.NextDelay(attempt)):
		}
	}
	return attempts, lastErr
}
