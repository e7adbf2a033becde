package aigate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open. It wraps
// ErrStoreUnavailable so gate callers fail closed on it like any other
// store trouble, just without waiting out the store timeout first.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", ErrStoreUnavailable)

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Success records a successful execution.
	Success()
	// Failure records a failed execution.
	Failure(err error)
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker is a simple consecutive-failure circuit breaker.
// After failureThreshold consecutive failures it opens and rejects calls
// immediately; after resetTimeout one trial call is let through (half-open)
// and its outcome closes or re-opens the circuit.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
// onStateChange is optional.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen || cb.state == StateOpen {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *DefaultCircuitBreaker) Failure(_ error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	} else if cb.currentState() == StateHalfOpen {
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// CircuitBreakerStore wraps a Store with circuit breaker protection: once
// the backing store fails repeatedly, calls are rejected with
// ErrCircuitOpen instead of waiting out the store timeout on every gate
// decision. Gate checks stay fail-closed either way; the breaker only
// makes the denial fast.
type CircuitBreakerStore struct {
	store Store
	cb    CircuitBreaker
}

// NewCircuitBreakerStore creates a new store wrapper with circuit breaker.
func NewCircuitBreakerStore(store Store, cb CircuitBreaker) *CircuitBreakerStore {
	return &CircuitBreakerStore{store: store, cb: cb}
}

// Unwrap returns the underlying store.
func (s *CircuitBreakerStore) Unwrap() Store {
	return s.store
}

// do runs one store call through the breaker. Expected business outcomes
// (ceiling trips, validation rejections) count as breaker successes: the
// store answered, even if the answer was no.
func (s *CircuitBreakerStore) do(fn func() error) error {
	if s.cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if err == nil || isBusinessOutcome(err) {
		s.cb.Success()
		return err
	}
	s.cb.Failure(err)
	return err
}

func isBusinessOutcome(err error) bool {
	return errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput)
}

func (s *CircuitBreakerStore) GetQuotaConfigs(ctx context.Context, tenantID string, qt QuotaType) ([]*QuotaConfig, error) {
	var configs []*QuotaConfig
	err := s.do(func() error {
		var e error
		configs, e = s.store.GetQuotaConfigs(ctx, tenantID, qt)
		return e
	})
	return configs, err
}

func (s *CircuitBreakerStore) PutQuotaConfig(ctx context.Context, cfg *QuotaConfig) error {
	return s.do(func() error {
		return s.store.PutQuotaConfig(ctx, cfg)
	})
}

func (s *CircuitBreakerStore) ReserveUsage(ctx context.Context, req *ReserveRequest) (int, error) {
	var used int
	err := s.do(func() error {
		var e error
		used, e = s.store.ReserveUsage(ctx, req)
		return e
	})
	return used, err
}

func (s *CircuitBreakerStore) ReleaseUsage(ctx context.Context, tenantID string, qt QuotaType, period Period, amount int) error {
	return s.do(func() error {
		return s.store.ReleaseUsage(ctx, tenantID, qt, period, amount)
	})
}

func (s *CircuitBreakerStore) UsageCount(ctx context.Context, tenantID string, qt QuotaType, period Period) (int, error) {
	var used int
	err := s.do(func() error {
		var e error
		used, e = s.store.UsageCount(ctx, tenantID, qt, period)
		return e
	})
	return used, err
}

func (s *CircuitBreakerStore) AppendEvent(ctx context.Context, ev *UsageEvent) error {
	return s.do(func() error {
		return s.store.AppendEvent(ctx, ev)
	})
}

func (s *CircuitBreakerStore) CountEvents(ctx context.Context, tenantID string, qt QuotaType, from, to time.Time) (int, error) {
	var n int
	err := s.do(func() error {
		var e error
		n, e = s.store.CountEvents(ctx, tenantID, qt, from, to)
		return e
	})
	return n, err
}

func (s *CircuitBreakerStore) AppendCost(ctx context.Context, rec *CostRecord) error {
	return s.do(func() error {
		return s.store.AppendCost(ctx, rec)
	})
}

func (s *CircuitBreakerStore) SumCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	var sum float64
	err := s.do(func() error {
		var e error
		sum, e = s.store.SumCost(ctx, tenantID, from, to)
		return e
	})
	return sum, err
}

func (s *CircuitBreakerStore) ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]*CostRecord, error) {
	var records []*CostRecord
	err := s.do(func() error {
		var e error
		records, e = s.store.ListCosts(ctx, tenantID, from, to)
		return e
	})
	return records, err
}

// Now implements TimeSource, delegating to the underlying store's clock
// when it has one. Reading the clock goes through the breaker too: an
// unreachable store should not stall period computation.
func (s *CircuitBreakerStore) Now(ctx context.Context) (time.Time, error) {
	ts, ok := s.store.(TimeSource)
	if !ok {
		return time.Now().UTC(), nil
	}

	var now time.Time
	err := s.do(func() error {
		var e error
		now, e = ts.Now(ctx)
		return e
	})
	return now, err
}
