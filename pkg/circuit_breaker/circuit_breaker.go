// Package circuit_breaker implements the Closed/Open/HalfOpen gate an
// outbound operation host wraps around OutboundAdapter.Send, so a peer
// classified as down stops being hammered (spec §5 reply-code-action
// Suspend/Disable evaluation feeds off GetStats/IsOpen here).
package circuit_breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/hie-engine/runtime-core/pkg/types"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker instance.
type Config struct {
	MaxFailures   int64         `yaml:"max_failures"`
	ResetTimeout  time.Duration `yaml:"reset_timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type circuitBreaker struct {
	config          Config
	state           types.CircuitBreakerState
	failures        int64
	successes       int64
	requests        int64
	lastFailureTime time.Time
	lastSuccessTime time.Time
	nextRetryTime   time.Time
	mutex           sync.RWMutex
}

// New creates a circuit breaker starting in the Closed state.
func New(config Config) types.CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 5 * time.Second
	}

	return &circuitBreaker{
		config: config,
		state:  types.CircuitBreakerClosed,
	}
}

// Execute runs fn through the breaker, tripping to Open after MaxFailures
// consecutive failures and probing with a single HalfOpen call once
// ResetTimeout has elapsed.
func (cb *circuitBreaker) Execute(fn func() error) error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.requests++

	if cb.state == types.CircuitBreakerOpen {
		if time.Now().Before(cb.nextRetryTime) {
			return ErrCircuitBreakerOpen
		}
		cb.state = types.CircuitBreakerHalfOpen
	}

	err := fn()

	if err != nil {
		cb.failures++
		cb.lastFailureTime = time.Now()

		if cb.failures >= cb.config.MaxFailures {
			cb.state = types.CircuitBreakerOpen
			cb.nextRetryTime = time.Now().Add(cb.config.ResetTimeout)
		}

		return err
	}

	cb.successes++
	cb.lastSuccessTime = time.Now()

	if cb.state == types.CircuitBreakerHalfOpen {
		cb.state = types.CircuitBreakerClosed
		cb.failures = 0
	}

	return nil
}

// State returns the current state.
func (cb *circuitBreaker) State() types.CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// IsOpen reports whether the breaker is currently rejecting calls.
func (cb *circuitBreaker) IsOpen() bool {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state == types.CircuitBreakerOpen
}

// Reset forces the breaker back to Closed, clearing the failure counter.
func (cb *circuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = types.CircuitBreakerClosed
	cb.failures = 0
	cb.nextRetryTime = time.Time{}
}

// GetStats reports the breaker's running counters.
func (cb *circuitBreaker) GetStats() types.CircuitBreakerStats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return types.CircuitBreakerStats{
		State:         cb.state,
		Failures:      cb.failures,
		Successes:     cb.successes,
		Requests:      cb.requests,
		LastFailure:   cb.lastFailureTime,
		LastSuccess:   cb.lastSuccessTime,
		NextRetryTime: cb.nextRetryTime,
	}
}
