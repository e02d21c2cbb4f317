package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/onnwee/matchcache/internal/metrics"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing dependency for a cool-down period
// and then lets a few trial calls through before closing again.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	name            string
	now             func() time.Time

	// Configuration
	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// Config holds circuit breaker configuration
type Config struct {
	Name             string
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes needed to close from half-open
	Timeout          time.Duration // Time to wait before trying half-open

	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cb := &CircuitBreaker{
		state:            StateClosed,
		name:             cfg.Name,
		now:              cfg.Now,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))
	return cb
}

// Call executes fn if the circuit breaker allows it. fn's error is returned
// unchanged; ErrCircuitOpen is returned without calling fn while open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canAttempt() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()
	cb.successCount = 0

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.failureCount = 0
		cb.trip()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.setState(StateClosed)
		}
	}
}

// trip opens the circuit. Caller holds mu.
func (cb *CircuitBreaker) trip() {
	cb.setState(StateOpen)
	metrics.CircuitBreakerTrips.WithLabelValues(cb.name).Inc()
}

// setState records s. Caller holds mu.
func (cb *CircuitBreaker) setState(s State) {
	cb.state = s
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(s))
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
