package go_cdp

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the current state of a CircuitBreaker.
type CircuitState string

const (
	// CircuitClosed allows operations through and counts failures.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen fails every operation fast without attempting it.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen lets a single probe through to test recovery.
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreaker guards transport-upgrade dialing so a peer whose
// advertised endpoint is unreachable is not hammered with connection
// attempts. Consecutive failures open the circuit; after resetTimeout
// one probe is allowed through, and its outcome decides whether the
// circuit closes again.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and probes recovery after resetTimeout. A
// maxFailures of zero never opens automatically.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			Debug("Circuit breaker transitioning to half-open")
			return nil
		}
		return fmt.Errorf("circuit breaker is open (last failure %v ago)",
			time.Since(cb.lastFailure).Round(time.Second))
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		switch cb.state {
		case CircuitClosed:
			if cb.maxFailures > 0 && cb.failures >= cb.maxFailures {
				cb.state = CircuitOpen
				Debug("Circuit breaker opened after %d failures", cb.failures)
			}
		case CircuitHalfOpen:
			cb.state = CircuitOpen
			Debug("Circuit breaker re-opened after failed probe")
		}
		return
	}
	if cb.state == CircuitHalfOpen {
		Debug("Circuit breaker closed after successful probe")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether the breaker is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == CircuitOpen
}
