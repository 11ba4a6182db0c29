package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker's current state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the call
// is rejected without invoking fn.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips after a run of consecutive failures and short-circuits
// further calls until a cooldown elapses, then goes half-open: the outcome
// of a call made while half-open closes or reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	state            State
	consecutiveFails int
	openedAt         time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker. A failureThreshold <= 0
// defaults to 5 and a resetTimeout <= 0 defaults to 30s.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
	}
}

// State returns the breaker's current state, transitioning Open to HalfOpen
// if the reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to Closed and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
}

// Execute runs fn if the breaker allows it. In HalfOpen state calls are let
// through; a success closes the breaker and a failure reopens it. The number
// of calls let through while HalfOpen is not limited to one.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	cb.mu.Lock()
	state := cb.stateLocked()
	if state == StateOpen {
		cb.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	cb.mu.Unlock()

	result, err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.consecutiveFails++
		if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
		return result, err
	}

	cb.consecutiveFails = 0
	cb.state = StateClosed
	return result, nil
}
