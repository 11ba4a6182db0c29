package resilience

import (
	"context"
	"sync"
	"time"
)

// ProviderLimits describes the rate and concurrency ceilings imposed by an
// upstream provider. A zero value field means that dimension is unlimited.
type ProviderLimits struct {
	// RPM is the maximum requests per minute.
	RPM int

	// TPM is the maximum tokens per minute.
	TPM int

	// MaxConcurrent is the maximum number of in-flight calls.
	MaxConcurrent int

	// CooldownOnRetry is an extra delay Wait enforces before a retried call,
	// independent of the token buckets.
	CooldownOnRetry time.Duration
}

// RateLimiter enforces ProviderLimits using token-bucket refill for RPM/TPM
// and a simple counting semaphore for concurrency.
type RateLimiter struct {
	limits ProviderLimits

	mu         sync.Mutex
	rpmTokens  float64
	tpmTokens  float64
	concurrent int
	lastRefill time.Time
}

// NewRateLimiter constructs a RateLimiter whose buckets start full.
func NewRateLimiter(limits ProviderLimits) *RateLimiter {
	return &RateLimiter{
		limits:     limits,
		rpmTokens:  float64(limits.RPM),
		tpmTokens:  float64(limits.TPM),
		lastRefill: time.Now(),
	}
}

func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now
	if elapsed <= 0 {
		return
	}
	if rl.limits.RPM > 0 {
		rl.rpmTokens += elapsed * (float64(rl.limits.RPM) / 60.0)
		if rl.rpmTokens > float64(rl.limits.RPM) {
			rl.rpmTokens = float64(rl.limits.RPM)
		}
	}
	if rl.limits.TPM > 0 {
		rl.tpmTokens += elapsed * (float64(rl.limits.TPM) / 60.0)
		if rl.tpmTokens > float64(rl.limits.TPM) {
			rl.tpmTokens = float64(rl.limits.TPM)
		}
	}
}

// Allow blocks until an RPM token and a concurrency slot are both available,
// or ctx is done. Every successful Allow must be paired with a Release.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		rl.mu.Lock()
		rl.refillLocked()
		rpmOK := rl.limits.RPM <= 0 || rl.rpmTokens >= 1
		concOK := rl.limits.MaxConcurrent <= 0 || rl.concurrent < rl.limits.MaxConcurrent
		if rpmOK && concOK {
			if rl.limits.RPM > 0 {
				rl.rpmTokens--
			}
			rl.concurrent++
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release returns a concurrency slot acquired by Allow. It is safe to call
// without a matching Allow; the counter never goes negative.
func (rl *RateLimiter) Release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.concurrent > 0 {
		rl.concurrent--
	}
}

// Wait enforces CooldownOnRetry, returning early if ctx is done first.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limits.CooldownOnRetry <= 0 {
		return nil
	}
	timer := time.NewTimer(rl.limits.CooldownOnRetry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ConsumeTokens blocks until count TPM tokens are available, or ctx is done.
// A non-positive count or an unlimited TPM budget returns immediately.
func (rl *RateLimiter) ConsumeTokens(ctx context.Context, count int) error {
	if rl.limits.TPM <= 0 || count <= 0 {
		return nil
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		rl.mu.Lock()
		rl.refillLocked()
		if rl.tpmTokens >= float64(count) {
			rl.tpmTokens -= float64(count)
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
