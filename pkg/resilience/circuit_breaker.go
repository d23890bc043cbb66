package resilience

import (
	"sync"
	"time"

	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - reset timeout elapsed, trial requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold uint32
	// ResetTimeout is how long the circuit stays open after the last failure
	// before a trial request is let through
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes that closes the circuit
	SuccessThreshold uint32
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
	// Logger defaults to the process logger
	Logger *logging.Logger
}

// DefaultCircuitBreakerConfig returns the 5 failures / 60s / 3 successes policy
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		SuccessThreshold: 3,
	}
}

// CircuitStatus is a point-in-time view of a breaker
type CircuitStatus struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	ConsecutiveFailures  uint32     `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32     `json:"consecutive_successes"`
	LastFailure          *time.Time `json:"last_failure,omitempty"`
	QueueLength          int        `json:"queue_length"`
}

// CircuitBreaker tracks consecutive outcomes of calls to one dependency and
// decides whether the next call should be attempted at all.
type CircuitBreaker struct {
	name             string
	failureThreshold uint32
	resetTimeout     time.Duration
	successThreshold uint32
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex                sync.Mutex
	state                CircuitState
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	lastFailure          time.Time

	now    func() time.Time
	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
// Zero thresholds and timeout take the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig(config.Name)
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = defaults.ResetTimeout
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		successThreshold: config.SuccessThreshold,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		now:              time.Now,
		logger:           config.Logger,
	}
}

// Allow reports whether a call may be attempted now. An open circuit whose
// reset timeout has elapsed since the last failure moves to half-open and
// admits the caller as a trial.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveSuccesses++
	if cb.consecutiveFailures > 0 {
		cb.consecutiveFailures--
	}

	if cb.consecutiveSuccesses >= cb.successThreshold {
		cb.consecutiveSuccesses = 0
		cb.consecutiveFailures = 0
		cb.setState(StateClosed)
	}
}

// RecordFailure registers a failed call, including timeouts
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++
	cb.lastFailure = cb.now()

	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.setState(StateOpen)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Status() CircuitStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	status := CircuitStatus{
		Name:                 cb.name,
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
	}
	if !cb.lastFailure.IsZero() {
		last := cb.lastFailure
		status.LastFailure = &last
	}
	return status
}

// Reset forces the breaker closed and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.lastFailure = time.Time{}
	cb.setState(StateClosed)
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
		"consecutive_successes", cb.consecutiveSuccesses,
	)
}
