package aigate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gate is the admission decision engine. Every code path that spends money
// on an AI call must consult CheckAndReserve first.
//
// The check and the commit are one atomic store increment: under N
// concurrent calls for the same tenant near the limit boundary, no more
// than Limit total admissions can ever be granted within a period.
type Gate struct {
	store    Store
	resolver *Resolver
	costs    *CostTracker
	config   Config
}

// NewGate creates a new budget gate. The resolver and cost tracker must be
// backed by the same store as the gate, so gate decisions and reports read
// the counters the gate increments.
func NewGate(store Store, resolver *Resolver, costs *CostTracker, config Config) (*Gate, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if resolver == nil || costs == nil {
		return nil, ErrInvalidInput
	}

	return &Gate{
		store:    store,
		resolver: resolver,
		costs:    costs,
		config:   config.withDefaults(),
	}, nil
}

// CheckAndReserve decides whether one unit of the given quota type may be
// spent by the tenant and, if so, commits the admission to the period
// counter in the same atomic store operation.
//
// A denial is a normal business outcome: the returned Verdict carries
// Allowed=false, the deny reason, the remaining headroom and the period
// reset time. An error return means the decision could not be made:
// callers must treat it as a denial (fail closed) and may retry; the error
// wraps ErrStoreUnavailable for transient infra failures.
//
// Denied attempts are not recorded against the ledger or the cost tracker.
// If the gated action fails after admission the reservation stays spent by
// default (fail-forward): a retry storm from failing actions cannot bypass
// the limit. Callers that prefer to hand the slot back may call Release.
func (g *Gate) CheckAndReserve(ctx context.Context, tenantID string, qt QuotaType) (*Verdict, error) {
	started := time.Now()

	verdict, err := g.checkAndReserve(ctx, tenantID, qt)

	reason := ""
	allowed := false
	if verdict != nil {
		reason = verdict.Reason
		allowed = verdict.Allowed
	}
	g.config.Metrics.RecordGateCheck(string(qt), allowed, reason, time.Since(started))

	return verdict, err
}

func (g *Gate) checkAndReserve(ctx context.Context, tenantID string, qt QuotaType) (*Verdict, error) {
	if tenantID == "" || qt == "" {
		return nil, ErrInvalidInput
	}

	policy, err := g.resolver.ResolveEffectivePolicy(ctx, tenantID, qt)
	if err != nil {
		return nil, err
	}

	now, err := g.now(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
	}

	period, err := periodFor(policy.Period, now, g.config.Location)
	if err != nil {
		return nil, err
	}

	// Budget check first: a budget denial must not consume a count slot.
	// The budget window is always the current business day regardless of
	// the quota period.
	budget, err := g.costs.CanMakeRequest(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !budget.Allowed {
		used, err := g.usageCount(ctx, tenantID, qt, period)
		if err != nil {
			return nil, err
		}
		g.logDenied(tenantID, qt, ReasonBudgetExceeded, policy)
		return &Verdict{
			Allowed:   false,
			Remaining: remaining(policy.Limit, used),
			ResetAt:   budget.ResetAt,
			Reason:    ReasonBudgetExceeded,
		}, nil
	}

	// Atomic increment-with-ceiling: this is both the check and the commit.
	sctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	used, err := g.store.ReserveUsage(sctx, &ReserveRequest{
		TenantID:  tenantID,
		QuotaType: qt,
		Period:    period,
		Amount:    1,
		Limit:     policy.Limit,
	})
	g.config.Metrics.RecordStoreOperation("reserve_usage", time.Since(start), ignoreCeiling(err))

	if errors.Is(err, ErrLimitExceeded) {
		g.logDenied(tenantID, qt, ReasonRateLimitExceeded, policy)
		return &Verdict{
			Allowed:   false,
			Remaining: remaining(policy.Limit, used),
			ResetAt:   period.End,
			Reason:    ReasonRateLimitExceeded,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reserving usage: %v", ErrStoreUnavailable, err)
	}

	return &Verdict{
		Allowed:   true,
		Remaining: remaining(policy.Limit, used),
		ResetAt:   period.End,
	}, nil
}

// Release hands one previously reserved unit back to the current period.
// This is the optional compensating decrement for callers that abort the
// gated action after admission; the default policy is to not call it.
func (g *Gate) Release(ctx context.Context, tenantID string, qt QuotaType) error {
	if tenantID == "" || qt == "" {
		return ErrInvalidInput
	}

	policy, err := g.resolver.ResolveEffectivePolicy(ctx, tenantID, qt)
	if err != nil {
		return err
	}
	now, err := g.now(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
	}
	period, err := periodFor(policy.Period, now, g.config.Location)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err = g.store.ReleaseUsage(ctx, tenantID, qt, period, 1)
	g.config.Metrics.RecordStoreOperation("release_usage", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: releasing usage: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Inspect returns a read-only dump of the resolved policy, the raw configs
// behind it, the current period counter and the budget standing for a
// tenant. It never mutates state; it backs the operational debug endpoint.
func (g *Gate) Inspect(ctx context.Context, tenantID string, qt QuotaType) (*InspectResult, error) {
	if tenantID == "" || qt == "" {
		return nil, ErrInvalidInput
	}

	policy, err := g.resolver.ResolveEffectivePolicy(ctx, tenantID, qt)
	if err != nil {
		return nil, err
	}
	now, err := g.now(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading store time: %v", ErrStoreUnavailable, err)
	}
	period, err := periodFor(policy.Period, now, g.config.Location)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	configs, err := g.store.GetQuotaConfigs(sctx, tenantID, qt)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching quota configs: %v", ErrStoreUnavailable, err)
	}

	used, err := g.usageCount(ctx, tenantID, qt, period)
	if err != nil {
		return nil, err
	}

	budget, err := g.costs.CanMakeRequest(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &InspectResult{
		Policy:  policy,
		Configs: configs,
		Period:  period,
		Used:    used,
		Budget:  budget,
	}, nil
}

func (g *Gate) usageCount(ctx context.Context, tenantID string, qt QuotaType, period Period) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	used, err := g.store.UsageCount(ctx, tenantID, qt, period)
	g.config.Metrics.RecordStoreOperation("usage_count", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("%w: reading usage count: %v", ErrStoreUnavailable, err)
	}
	return used, nil
}

// now prefers the storage engine clock when the store provides one, so
// period boundaries agree across hosts.
func (g *Gate) now(ctx context.Context) (time.Time, error) {
	if ts, ok := g.store.(TimeSource); ok {
		ctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
		defer cancel()
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}

func (g *Gate) logDenied(tenantID string, qt QuotaType, reason string, policy *ResolvedPolicy) {
	g.config.Logger.Info("gate denied request",
		Field{Key: "tenant_id", Value: tenantID},
		Field{Key: "quota_type", Value: string(qt)},
		Field{Key: "reason", Value: reason},
		Field{Key: "limit", Value: policy.Limit},
		Field{Key: "policy_source", Value: string(policy.Source)},
	)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

// ignoreCeiling keeps a ceiling trip out of store error metrics; it is an
// expected outcome, not a store failure.
func ignoreCeiling(err error) error {
	if errors.Is(err, ErrLimitExceeded) {
		return nil
	}
	return err
}
