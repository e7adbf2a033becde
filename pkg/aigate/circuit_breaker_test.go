package aigate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glintcare/aigate/pkg/aigate"
)

// flakyStore fails or succeeds UsageCount on demand and counts how often
// the backend was actually reached. Everything else inherits failingStore.
type flakyStore struct {
	failingStore

	mu    sync.Mutex
	fail  bool
	calls int
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *flakyStore) UsageCount(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return 0, errBackendDown
	}
	return 7, nil
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{fail: true}
	cb := aigate.NewDefaultCircuitBreaker(3, time.Hour, nil)
	store := aigate.NewCircuitBreakerStore(inner, cb)

	ctx := context.Background()
	period := currentDay(t, time.Now())

	for i := 0; i < 3; i++ {
		if _, err := store.UsageCount(ctx, testTenant, aigate.QuotaTypeAIScans, period); !errors.Is(err, errBackendDown) {
			t.Fatalf("Call %d: expected backend error, got %v", i, err)
		}
	}
	if got := cb.State(); got != aigate.StateOpen {
		t.Fatalf("Expected open circuit after 3 failures, got %s", got)
	}

	_, err := store.UsageCount(ctx, testTenant, aigate.QuotaTypeAIScans, period)
	if !errors.Is(err, aigate.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen while open, got %v", err)
	}
	if !errors.Is(err, aigate.ErrStoreUnavailable) {
		t.Errorf("ErrCircuitOpen should read as store unavailability, got %v", err)
	}
	if got := inner.callCount(); got != 3 {
		t.Errorf("Open circuit must not reach the backend, saw %d calls", got)
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	inner := &flakyStore{fail: true}
	cb := aigate.NewDefaultCircuitBreaker(2, 20*time.Millisecond, nil)
	store := aigate.NewCircuitBreakerStore(inner, cb)

	ctx := context.Background()
	period := currentDay(t, time.Now())

	for i := 0; i < 2; i++ {
		store.UsageCount(ctx, testTenant, aigate.QuotaTypeAIScans, period)
	}
	if got := cb.State(); got != aigate.StateOpen {
		t.Fatalf("Expected open circuit, got %s", got)
	}

	inner.setFail(false)
	time.Sleep(30 * time.Millisecond)

	if got := cb.State(); got != aigate.StateHalfOpen {
		t.Fatalf("Expected half-open after reset timeout, got %s", got)
	}

	used, err := store.UsageCount(ctx, testTenant, aigate.QuotaTypeAIScans, period)
	if err != nil {
		t.Fatalf("Half-open call should pass through, got %v", err)
	}
	if used != 7 {
		t.Errorf("Expected passthrough result 7, got %d", used)
	}
	if got := cb.State(); got != aigate.StateClosed {
		t.Errorf("Successful half-open call should close the circuit, got %s", got)
	}
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	inner := &flakyStore{fail: true}
	cb := aigate.NewDefaultCircuitBreaker(2, 20*time.Millisecond, nil)
	store := aigate.NewCircuitBreakerStore(inner, cb)

	ctx := context.Background()
	period := currentDay(t, time.Now())

	for i := 0; i < 2; i++ {
		store.UsageCount(ctx, testTenant, aigate.QuotaTypeAIScans, period)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := store.UsageCount(ctx, testTenant, aigate.QuotaTypeAIScans, period); !errors.Is(err, errBackendDown) {
		t.Fatalf("Half-open call should reach the backend, got %v", err)
	}
	if got := cb.State(); got != aigate.StateOpen {
		t.Errorf("Failed half-open call should reopen the circuit, got %s", got)
	}
}

func TestCircuitBreakerStore_CeilingTripIsNotAFailure(t *testing.T) {
	inner := &ceilingStore{}
	cb := aigate.NewDefaultCircuitBreaker(2, time.Hour, nil)
	store := aigate.NewCircuitBreakerStore(inner, cb)

	ctx := context.Background()
	req := &aigate.ReserveRequest{
		TenantID:  testTenant,
		QuotaType: aigate.QuotaTypeAIScans,
		Period:    currentDay(t, time.Now()),
		Amount:    1,
		Limit:     5,
	}

	for i := 0; i < 5; i++ {
		used, err := store.ReserveUsage(ctx, req)
		if !errors.Is(err, aigate.ErrLimitExceeded) {
			t.Fatalf("Call %d: expected ErrLimitExceeded, got %v", i, err)
		}
		if used != 5 {
			t.Fatalf("Call %d: expected used 5, got %d", i, used)
		}
	}
	if got := cb.State(); got != aigate.StateClosed {
		t.Errorf("Ceiling trips must not open the circuit, got %s", got)
	}
}

func TestGate_FailsClosedFastWhenCircuitOpen(t *testing.T) {
	cb := aigate.NewDefaultCircuitBreaker(2, time.Hour, nil)
	store := aigate.NewCircuitBreakerStore(&failingStore{}, cb)

	config := aigate.Config{}
	costs, _ := aigate.NewCostTracker(store, config)
	resolver, _ := aigate.NewResolver(store, config)
	gate, err := aigate.NewGate(store, resolver, costs, config)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	ctx := context.Background()
	gate.CheckAndReserve(ctx, "clinic-a", aigate.QuotaTypeAIScans)
	gate.CheckAndReserve(ctx, "clinic-b", aigate.QuotaTypeAIScans)

	if got := cb.State(); got != aigate.StateOpen {
		t.Fatalf("Expected open circuit after repeated store failures, got %s", got)
	}

	start := time.Now()
	verdict, err := gate.CheckAndReserve(ctx, "clinic-c", aigate.QuotaTypeAIScans)
	elapsed := time.Since(start)

	if !errors.Is(err, aigate.ErrStoreUnavailable) {
		t.Errorf("Expected fail-closed error, got %v", err)
	}
	if verdict != nil {
		t.Errorf("No verdict should accompany an open circuit, got %+v", verdict)
	}
	if elapsed > time.Second {
		t.Errorf("Open circuit should deny without waiting on the store, took %v", elapsed)
	}
}

// ceilingStore always reports a full counter, standing in for a healthy
// backend whose tenant is at the limit.
type ceilingStore struct {
	failingStore
}

func (s *ceilingStore) ReserveUsage(ctx context.Context, req *aigate.ReserveRequest) (int, error) {
	return req.Limit, aigate.ErrLimitExceeded
}
