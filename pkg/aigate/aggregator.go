package aigate

import (
	"context"
	"fmt"
	"time"
)

// Aggregator computes rolling-window usage counts on demand. It holds no
// state of its own: every read goes to the store.
type Aggregator struct {
	store  Store
	config Config
}

// NewAggregator creates a new window aggregator backed by the given store.
func NewAggregator(store Store, config Config) (*Aggregator, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	return &Aggregator{
		store:  store,
		config: config.withDefaults(),
	}, nil
}

// PeriodCount reads the period counter the gate increments. For the
// current enforcement period this is exactly the number the last gate
// decision was made against, not a separately derived approximation.
func (a *Aggregator) PeriodCount(ctx context.Context, tenantID string, qt QuotaType, period Period) (int, error) {
	if tenantID == "" || qt == "" {
		return 0, ErrInvalidInput
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	used, err := a.store.UsageCount(ctx, tenantID, qt, period)
	a.config.Metrics.RecordStoreOperation("usage_count", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("%w: reading usage count: %v", ErrStoreUnavailable, err)
	}
	return used, nil
}

// CountEvents counts ledger event quantity for a tenant and quota type in
// the half-open window [from, to). Bounds must be day-aligned in the
// business time zone (stores may bucket events per day); windows of any
// whole-day length are supported. CountDays builds aligned windows.
func (a *Aggregator) CountEvents(ctx context.Context, tenantID string, qt QuotaType, from, to time.Time) (int, error) {
	if tenantID == "" || qt == "" {
		return 0, ErrInvalidInput
	}
	if !to.After(from) {
		return 0, ErrInvalidInput
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	n, err := a.store.CountEvents(ctx, tenantID, qt, from, to)
	a.config.Metrics.RecordStoreOperation("count_events", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("%w: counting events: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// CountDays counts ledger event quantity over the trailing `days` business
// days, today included, aligned to the configured business time zone.
func (a *Aggregator) CountDays(ctx context.Context, tenantID string, qt QuotaType, days int) (int, error) {
	if days <= 0 {
		return 0, ErrInvalidInput
	}

	now, err := a.now(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
	}
	from, to := dayWindow(now, days, a.config.Location)
	return a.CountEvents(ctx, tenantID, qt, from, to)
}

func (a *Aggregator) now(ctx context.Context) (time.Time, error) {
	if ts, ok := a.store.(TimeSource); ok {
		ctx, cancel := context.WithTimeout(ctx, a.config.StoreTimeout)
		defer cancel()
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}
