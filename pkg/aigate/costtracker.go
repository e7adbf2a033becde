package aigate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CostTracker records the monetary cost of AI calls after the fact and
// exposes budget preflights and usage reports. It is an explicitly
// constructed service with injected store and clock dependencies, not a
// process-global singleton, so tests can run it against fake clocks and
// in-memory stores.
type CostTracker struct {
	store  Store
	config Config
}

// NewCostTracker creates a new cost tracker backed by the given store.
func NewCostTracker(store Store, config Config) (*CostTracker, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	return &CostTracker{
		store:  store,
		config: config.withDefaults(),
	}, nil
}

// RecordCost appends an immutable cost record for a completed AI call and
// attributes it to the tenant's business-day bucket. Amount must be
// non-negative; a zero timestamp means "now".
func (t *CostTracker) RecordCost(ctx context.Context, tenantID, operation string, amount float64, ts time.Time) (*CostRecord, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if ts.IsZero() {
		now, err := t.now(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
		}
		ts = now
	}

	rec := &CostRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Operation: operation,
		Amount:    amount,
		Timestamp: ts,
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := t.store.AppendCost(ctx, rec)
	t.config.Metrics.RecordStoreOperation("append_cost", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: appending cost record: %v", ErrStoreUnavailable, err)
	}

	t.config.Metrics.RecordCost(operation, amount)
	return rec, nil
}

// CanMakeRequest re-derives the daily budget check without consuming
// anything, so callers can pre-flight a request before a full gate
// reservation. Allowed is false once recorded spend reaches the ceiling.
func (t *CostTracker) CanMakeRequest(ctx context.Context, tenantID string) (*BudgetStatus, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}

	now, err := t.now(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
	}
	day := dailyPeriod(now, t.config.Location)

	ctx, cancel := context.WithTimeout(ctx, t.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	spent, err := t.store.SumCost(ctx, tenantID, day.Start, day.End)
	t.config.Metrics.RecordStoreOperation("sum_cost", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: summing cost: %v", ErrStoreUnavailable, err)
	}

	remaining := t.config.DailyBudget - spent
	if remaining < 0 {
		remaining = 0
	}

	return &BudgetStatus{
		Allowed:         spent < t.config.DailyBudget,
		Budget:          t.config.DailyBudget,
		Spent:           spent,
		RemainingBudget: remaining,
		ResetAt:         day.End,
	}, nil
}

// GetUsageReport aggregates cost records over the trailing `days` business
// days, today included. Every day in the window gets a row, zero-cost days
// explicitly so, and totals are zero (not absent) for empty windows.
// Repeated calls with no intervening records return identical reports.
func (t *CostTracker) GetUsageReport(ctx context.Context, tenantID string, days int) (*UsageReport, error) {
	if tenantID == "" || days <= 0 {
		return nil, ErrInvalidInput
	}

	now, err := t.now(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
	}
	from, to := dayWindow(now, days, t.config.Location)

	ctx, cancel := context.WithTimeout(ctx, t.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	records, err := t.store.ListCosts(ctx, tenantID, from, to)
	t.config.Metrics.RecordStoreOperation("list_costs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: listing cost records: %v", ErrStoreUnavailable, err)
	}

	report := &UsageReport{
		TenantID:    tenantID,
		Days:        days,
		WindowStart: from,
		WindowEnd:   to,
		ByDay:       make([]DayCost, 0, days),
		ByOperation: make(map[string]OperationCost),
	}

	// Pre-seed every day in the window so empty days report explicit zeros.
	dayIndex := make(map[string]int, days)
	for d := 0; d < days; d++ {
		date := from.AddDate(0, 0, d).Format("2006-01-02")
		dayIndex[date] = d
		report.ByDay = append(report.ByDay, DayCost{Date: date})
	}

	for _, rec := range records {
		report.TotalCost += rec.Amount
		report.TotalRequests++

		date := rec.Timestamp.In(t.config.Location).Format("2006-01-02")
		if i, ok := dayIndex[date]; ok {
			report.ByDay[i].TotalCost += rec.Amount
			report.ByDay[i].RequestCount++
		}

		op := report.ByOperation[rec.Operation]
		op.TotalCost += rec.Amount
		op.RequestCount++
		report.ByOperation[rec.Operation] = op
	}

	if report.TotalRequests > 0 {
		report.AverageCost = report.TotalCost / float64(report.TotalRequests)
	}

	return report, nil
}

func (t *CostTracker) now(ctx context.Context) (time.Time, error) {
	if ts, ok := t.store.(TimeSource); ok {
		ctx, cancel := context.WithTimeout(ctx, t.config.StoreTimeout)
		defer cancel()
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}
