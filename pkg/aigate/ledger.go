package aigate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger appends immutable usage events, one per admitted billable action.
// Callers write an event after the gated action completes; denied attempts
// are never recorded. Events feed the window aggregator's reporting reads;
// enforcement itself rides on the period counters the gate increments.
type Ledger struct {
	store  Store
	config Config
}

// NewLedger creates a new usage ledger backed by the given store.
func NewLedger(store Store, config Config) (*Ledger, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	return &Ledger{
		store:  store,
		config: config.withDefaults(),
	}, nil
}

// Record appends one usage event. Quantity must be positive (pass 1 for a
// single action); a zero timestamp means "now".
func (l *Ledger) Record(ctx context.Context, tenantID string, qt QuotaType, quantity int, ts time.Time) (*UsageEvent, error) {
	if tenantID == "" || qt == "" {
		return nil, ErrInvalidInput
	}
	if quantity <= 0 {
		return nil, ErrInvalidAmount
	}
	if ts.IsZero() {
		now, err := l.now(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
		}
		ts = now
	}

	ev := &UsageEvent{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		QuotaType: qt,
		Timestamp: ts,
		Quantity:  quantity,
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := l.store.AppendEvent(ctx, ev)
	l.config.Metrics.RecordStoreOperation("append_event", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: appending usage event: %v", ErrStoreUnavailable, err)
	}

	return ev, nil
}

func (l *Ledger) now(ctx context.Context) (time.Time, error) {
	if ts, ok := l.store.(TimeSource); ok {
		ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
		defer cancel()
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}
