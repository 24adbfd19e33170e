package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned instead of running the call while the
// breaker is open or its half-open probe slots are taken.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	retryAfter := max(e.RetryAfter, 0)
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, retryAfter)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, retryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

type CircuitBreakerConfig struct {
	Name              string
	FailureThreshold  int
	SuccessThreshold  int
	OpenTimeout       time.Duration
	HalfOpenMaxFlight int

	// IsFailure decides which errors count against the breaker. Errors it
	// rejects are returned to the caller but treated as a healthy round-trip.
	// Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to CircuitBreakerState)
	// Now defaults to time.Now.
	Now func() time.Time
}

// outcome classifies one finished call.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeCanceled
)

// CircuitBreaker stops dispatching after FailureThreshold consecutive
// failures, then lets HalfOpenMaxFlight probes through once OpenTimeout
// has passed.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig

	state     CircuitBreakerState
	failures  int
	successes int
	inFlight  int
	openUntil time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxFlight <= 0 {
		cfg.HalfOpenMaxFlight = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State reports the current state, moving an expired open circuit to
// half-open first.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	var state CircuitBreakerState
	cb.locked(func(now time.Time) {
		state = cb.state
	})
	return state
}

// Execute runs fn unless the circuit is open. Caller cancellation is not
// held against the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	var openErr error
	cb.locked(func(now time.Time) {
		openErr = cb.admitLocked(now)
	})
	if openErr != nil {
		return openErr
	}

	err := fn(ctx)

	result := outcomeSuccess
	switch {
	case errors.Is(err, context.Canceled):
		result = outcomeCanceled
	case err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)):
		result = outcomeFailure
	}
	cb.locked(func(now time.Time) {
		cb.recordLocked(result, now)
	})
	return err
}

// locked runs fn under the lock after expiring the open window, then
// reports a state change once the lock is released.
func (cb *CircuitBreaker) locked(fn func(now time.Time)) {
	cb.mu.Lock()
	from := cb.state
	now := cb.cfg.Now()
	if cb.state == CircuitOpen && !now.Before(cb.openUntil) {
		cb.setLocked(CircuitHalfOpen, now)
	}
	fn(now)
	to := cb.state
	cb.mu.Unlock()

	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

func (cb *CircuitBreaker) admitLocked(now time.Time) error {
	switch cb.state {
	case CircuitOpen:
		return cb.openErrLocked(now)
	case CircuitHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxFlight {
			return cb.openErrLocked(now)
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) recordLocked(result outcome, now time.Time) {
	if cb.state != CircuitHalfOpen {
		switch result {
		case outcomeSuccess:
			cb.failures = 0
		case outcomeFailure:
			cb.failures++
			if cb.failures >= cb.cfg.FailureThreshold {
				cb.setLocked(CircuitOpen, now)
			}
		}
		return
	}

	if cb.inFlight > 0 {
		cb.inFlight--
	}
	switch result {
	case outcomeSuccess:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setLocked(CircuitClosed, now)
		}
	case outcomeFailure:
		cb.setLocked(CircuitOpen, now)
	}
}

// setLocked enters state with fresh counters.
func (cb *CircuitBreaker) setLocked(state CircuitBreakerState, now time.Time) {
	cb.state = state
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0
	if state == CircuitOpen {
		cb.openUntil = now.Add(cb.cfg.OpenTimeout)
	}
}

func (cb *CircuitBreaker) openErrLocked(now time.Time) error {
	return &CircuitOpenError{
		Name:       cb.cfg.Name,
		RetryAfter: max(cb.openUntil.Sub(now), 0),
	}
}
