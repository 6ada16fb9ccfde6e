package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/voxinput/dictation-engine/internal/observability"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Testing if the service has recovered
)

// ErrCircuitOpen is returned by Call while the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern around an unreliable
// dependency such as the typing helper
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu            sync.RWMutex
	state         CircuitState
	failureCount  int
	lastFailTime  time.Time
	successCount  int
	halfOpenCount int
	requestCount  int64
	failureTotal  int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		state:        StateClosed,
	}
}

// Call executes fn unless the circuit is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailTime) >= cb.resetTimeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenCount = 0
			cb.successCount = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	}

	return false
}

func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++

	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

// recordSuccess runs with cb.mu held
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.halfOpenCount = 0
			cb.successCount = 0
		}
	}
}

// recordFailure runs with cb.mu held
func (cb *CircuitBreaker) recordFailure() {
	cb.failureTotal++
	cb.lastFailTime = time.Now()
	observability.IncrementCircuitBreakerFailures(cb.name)

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in half-open immediately reopens the circuit
		cb.setState(StateOpen)
		cb.halfOpenCount = 0
		cb.successCount = 0
	}
}

// setState transitions the breaker and mirrors the state to the metrics.
// Runs with cb.mu held.
func (cb *CircuitBreaker) setState(state CircuitState) {
	cb.state = state
	observability.UpdateCircuitBreakerState(cb.name, int(state))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns request and failure totals with the failure rate in percent
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}
	return
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.halfOpenCount = 0
	cb.successCount = 0
}
