package aigate

import (
	"context"
	"time"
)

// Store defines the interface for quota and cost persistence.
// All methods use concrete types from this package to avoid import cycles.
//
// Implementations must make ReserveUsage atomic: under concurrent calls for
// the same (tenant, quota type, period) no more than Limit total units may
// ever be admitted. Everything else is plain reads and append-only writes.
type Store interface {
	// GetQuotaConfigs retrieves all quota configs for a (tenant, quota type)
	// key, active or not. Returning more than one active config is a data
	// anomaly the resolver handles; it is not an error here.
	GetQuotaConfigs(ctx context.Context, tenantID string, qt QuotaType) ([]*QuotaConfig, error)

	// PutQuotaConfig stores or replaces a quota config by ID.
	PutQuotaConfig(ctx context.Context, cfg *QuotaConfig) error

	// ReserveUsage atomically increments the period counter, failing the
	// increment with ErrLimitExceeded if it would cross req.Limit.
	// Returns the counter value after the call: the new used amount on
	// success, the current used amount on ErrLimitExceeded.
	ReserveUsage(ctx context.Context, req *ReserveRequest) (int, error)

	// ReleaseUsage decrements the period counter by amount, clamped at
	// zero. Used for optional compensating releases after a failed
	// downstream action.
	ReleaseUsage(ctx context.Context, tenantID string, qt QuotaType, period Period, amount int) error

	// UsageCount reads the period counter ReserveUsage increments. This is
	// the number the gate enforced against, not a derived approximation.
	UsageCount(ctx context.Context, tenantID string, qt QuotaType, period Period) (int, error)

	// AppendEvent appends an immutable usage event to the ledger.
	AppendEvent(ctx context.Context, ev *UsageEvent) error

	// CountEvents counts ledger event quantity in [from, to). Both bounds
	// must be day-aligned in the business time zone: implementations may
	// bucket events per business day (the redis store does), so a window
	// cut mid-day reads as its covering whole days. The aggregator's
	// window helpers only produce aligned bounds.
	CountEvents(ctx context.Context, tenantID string, qt QuotaType, from, to time.Time) (int, error)

	// AppendCost appends an immutable cost record.
	AppendCost(ctx context.Context, rec *CostRecord) error

	// SumCost sums cost amounts for a tenant in [from, to).
	SumCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error)

	// ListCosts returns cost records for a tenant in [from, to), ordered
	// by timestamp ascending.
	ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]*CostRecord, error)
}

// ReserveRequest is an atomic usage reservation against a period ceiling.
type ReserveRequest struct {
	TenantID  string
	QuotaType QuotaType
	Period    Period
	Amount    int
	Limit     int
}

// TimeSource defines an interface for getting time from the storage engine.
// Using storage engine time instead of application server time keeps
// period boundaries consistent across distributed hosts.
type TimeSource interface {
	// Now returns the current time from the storage engine.
	Now(ctx context.Context) (time.Time, error)
}
