// Package memory provides an in-memory implementation of the aigate.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glintcare/aigate/pkg/aigate"
)

// Store implements aigate.Store using in-memory maps.
type Store struct {
	mu       sync.RWMutex
	configs  map[string][]*aigate.QuotaConfig
	counters map[string]int
	events   []*aigate.UsageEvent
	costs    []*aigate.CostRecord
	nowFunc  func() time.Time
}

// New creates a new in-memory store adapter.
func New() *Store {
	return &Store{
		configs:  make(map[string][]*aigate.QuotaConfig),
		counters: make(map[string]int),
	}
}

// SetNowFunc overrides the store clock. Pass nil to restore the system
// clock. Intended for tests that need to cross period boundaries.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

// Now implements aigate.TimeSource.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nowFunc != nil {
		return s.nowFunc(), nil
	}
	return time.Now().UTC(), nil
}

// GetQuotaConfigs implements aigate.Store.
func (s *Store) GetQuotaConfigs(ctx context.Context, tenantID string, qt aigate.QuotaType) ([]*aigate.QuotaConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := s.configs[configKey(tenantID, qt)]
	out := make([]*aigate.QuotaConfig, 0, len(configs))
	for _, cfg := range configs {
		// Return copies to prevent external mutations
		cfgCopy := *cfg
		out = append(out, &cfgCopy)
	}
	return out, nil
}

// PutQuotaConfig implements aigate.Store.
func (s *Store) PutQuotaConfig(ctx context.Context, cfg *aigate.QuotaConfig) error {
	if cfg == nil || cfg.ID == "" || cfg.TenantID == "" || cfg.QuotaType == "" {
		return fmt.Errorf("invalid quota config")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey(cfg.TenantID, cfg.QuotaType)
	cfgCopy := *cfg

	for i, existing := range s.configs[key] {
		if existing.ID == cfg.ID {
			s.configs[key][i] = &cfgCopy
			return nil
		}
	}
	s.configs[key] = append(s.configs[key], &cfgCopy)
	return nil
}

// ReserveUsage implements aigate.Store. The check and increment happen
// under one lock, so concurrent reservations serialize and the ceiling
// holds.
func (s *Store) ReserveUsage(ctx context.Context, req *aigate.ReserveRequest) (int, error) {
	if req == nil || req.Amount <= 0 {
		return 0, aigate.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(req.TenantID, req.QuotaType, req.Period)
	current := s.counters[key]

	newUsed := current + req.Amount
	if newUsed > req.Limit {
		return current, aigate.ErrLimitExceeded
	}

	s.counters[key] = newUsed
	return newUsed, nil
}

// ReleaseUsage implements aigate.Store. The counter is clamped at zero.
func (s *Store) ReleaseUsage(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period, amount int) error {
	if amount <= 0 {
		return aigate.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(tenantID, qt, period)
	current := s.counters[key]
	current -= amount
	if current < 0 {
		current = 0
	}
	s.counters[key] = current
	return nil
}

// UsageCount implements aigate.Store.
func (s *Store) UsageCount(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[counterKey(tenantID, qt, period)], nil
}

// AppendEvent implements aigate.Store.
func (s *Store) AppendEvent(ctx context.Context, ev *aigate.UsageEvent) error {
	if ev == nil || ev.TenantID == "" || ev.QuotaType == "" {
		return fmt.Errorf("invalid usage event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evCopy := *ev
	s.events = append(s.events, &evCopy)
	return nil
}

// CountEvents implements aigate.Store.
func (s *Store) CountEvents(ctx context.Context, tenantID string, qt aigate.QuotaType, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, ev := range s.events {
		if ev.TenantID != tenantID || ev.QuotaType != qt {
			continue
		}
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		total += ev.Quantity
	}
	return total, nil
}

// AppendCost implements aigate.Store.
func (s *Store) AppendCost(ctx context.Context, rec *aigate.CostRecord) error {
	if rec == nil || rec.TenantID == "" {
		return fmt.Errorf("invalid cost record")
	}
	if rec.Amount < 0 {
		return aigate.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.costs = append(s.costs, &recCopy)
	return nil
}

// SumCost implements aigate.Store.
func (s *Store) SumCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0.0
	for _, rec := range s.costs {
		if rec.TenantID != tenantID {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		total += rec.Amount
	}
	return total, nil
}

// ListCosts implements aigate.Store.
func (s *Store) ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]*aigate.CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*aigate.CostRecord
	for _, rec := range s.costs {
		if rec.TenantID != tenantID {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		recCopy := *rec
		out = append(out, &recCopy)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs = make(map[string][]*aigate.QuotaConfig)
	s.counters = make(map[string]int)
	s.events = nil
	s.costs = nil
}

func configKey(tenantID string, qt aigate.QuotaType) string {
	return fmt.Sprintf("%s:%s", tenantID, qt)
}

func counterKey(tenantID string, qt aigate.QuotaType, period aigate.Period) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, qt, period.Key())
}
