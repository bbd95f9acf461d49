package errors

import (
	"fmt"
	"sync"
	"time"

	"krishi/internal/logging"
)

// CircuitState is the breaker position for one collaborator.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig: zero fields take the defaults (5 failures to open,
// 2 half-open successes to close, 30s cooldown).
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second}
}

// BreakerStatus is a point-in-time view of a breaker, served by /healthz.
type BreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
	RetryIn  string `json:"retry_in,omitempty"`
}

// CircuitBreaker stops calling a collaborator (weather, mandi registry,
// classifier, ...) after repeated failures, so requests fail fast with a
// "try again later" answer until the cooldown passes. After the cooldown a
// few trial requests decide whether it closes again.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.NewComponentLogger("breaker"),
		now:    time.Now,
	}
}

// Allow returns a DegradedError wrapping ErrServiceUnavailable while the
// breaker is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	wait := cb.config.Cooldown - cb.now().Sub(cb.openedAt)
	if wait <= 0 {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.logger.Info("%s: cooldown over, letting trial requests through", cb.name)
		return nil
	}
	return NewDegradedError(
		fmt.Errorf("%s circuit open: %w", cb.name, ErrServiceUnavailable),
		fmt.Sprintf("The %s service is not responding. Please try again in %s.", cb.name, roundUp(wait)),
		"",
	)
}

// Mark records the outcome of a call allowed by Allow; nil means success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.logger.Info("%s: recovered", cb.name)
			}
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.trip("trial request failed: %v", err)
	case cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold:
		cb.trip("%d consecutive failures, last: %v", cb.failures, err)
	}
}

func (cb *CircuitBreaker) trip(format string, args ...any) {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.logger.Warn(cb.name+": circuit opened, "+format, args...)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status reports the breaker without changing it.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	status := BreakerStatus{Name: cb.name, State: cb.state.String(), Failures: cb.failures}
	if cb.state == StateOpen {
		if wait := cb.config.Cooldown - cb.now().Sub(cb.openedAt); wait > 0 {
			status.RetryIn = roundUp(wait).String()
		}
	}
	return status
}

func roundUp(d time.Duration) time.Duration {
	rounded := d.Round(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	return rounded
}
