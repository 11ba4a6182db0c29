// Package resilience provides retry, circuit breaker, and rate limiting
// primitives shared by provider-facing call sites across the runtime.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/beluga-voice/agentrt/core"
)

// RetryPolicy controls the backoff schedule used by Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero is normalized to the default of 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64

	// Jitter randomizes the delay within [0, delay] to avoid thundering herds.
	Jitter bool

	// RetryableErrors overrides the default retryable-code set from
	// core.IsRetryable with an explicit allowlist.
	RetryableErrors []core.ErrorCode
}

// DefaultRetryPolicy returns the default policy. Retry fills any non-positive
// MaxAttempts, InitialBackoff, MaxBackoff or BackoffFactor from it; Jitter and
// RetryableErrors are used as supplied.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = d.BackoffFactor
	}
	return p
}

func (p RetryPolicy) retryable(err error) bool {
	if len(p.RetryableErrors) == 0 {
		return core.IsRetryable(err)
	}
	e, ok := err.(*core.Error)
	if !ok {
		return false
	}
	for _, code := range p.RetryableErrors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Retry invokes fn until it succeeds, the policy's attempts are exhausted, a
// non-retryable error is returned, or ctx is done. Only *core.Error values
// whose code is retryable (per IsRetryable, or RetryableErrors when set) are
// retried; any other error, including plain errors, is returned immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalize()

	backoff := policy.InitialBackoff
	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts || !policy.retryable(err) {
			return zero, lastErr
		}

		delay := backoff
		if policy.Jitter {
			delay = time.Duration(rand.Int63n(int64(delay) + 1))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffFactor)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return zero, lastErr
}
