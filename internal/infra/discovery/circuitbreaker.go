package discovery

import (
	"fmt"
	"sync"
	"time"
)

// CBState is the circuit breaker's current state.
type CBState int

const (
	CBClosed   CBState = iota // normal operation, probes pass through
	CBOpen                    // tripped, probes rejected immediately
	CBHalfOpen                // recovery, probes pass through until HalfOpenMax successes close it or one failure reopens it
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures a per-provider breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMax      int
}

// DefaultCircuitBreakerConfig returns the defaults applied per provider.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 3}
}

// ErrCircuitOpen is returned by Allow while the breaker is tripped.
var ErrCircuitOpen = fmt.Errorf("circuit breaker open")

// CircuitBreaker guards a provider's discovery/availability probes so a
// provider stuck returning errors stops being hammered. Same CLOSED ->
// OPEN -> HALF_OPEN -> CLOSED state machine as the rest of the pack's
// node-health breaker, scoped here to one provider (shared by every user
// of it) instead of a cluster node.
type CircuitBreaker struct {
	mu         sync.Mutex
	name       string
	config     CircuitBreakerConfig
	state      CBState
	failures   int
	successes  int
	trippedAt  time.Time
	totalTrips int
	now        func() time.Time
}

// NewCircuitBreaker creates a breaker with an injectable clock for tests.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, config: cfg, state: CBClosed, now: time.Now}
}

// Allow reports whether a probe should proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CBOpen:
		if cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
			cb.state = CBHalfOpen
			cb.successes = 0
			return nil
		}
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	default:
		return nil
	}
}

// RecordSuccess reports a successful probe.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CBHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.state = CBClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CBClosed:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

// RecordFailure reports a failed probe, possibly tripping the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CBClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CBOpen
			cb.trippedAt = cb.now()
			cb.totalTrips++
		}
	case CBHalfOpen:
		cb.state = CBOpen
		cb.trippedAt = cb.now()
		cb.totalTrips++
	}
}

// State returns the current state, auto-advancing OPEN to HALF_OPEN once
// the reset timeout has elapsed.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		cb.state = CBHalfOpen
		cb.successes = 0
	}
	return cb.state
}
