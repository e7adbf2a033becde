package aigate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Resolver computes the effective quota policy for a (tenant, quota type)
// key, merging active per-tenant configs with the global default.
type Resolver struct {
	store  Store
	config Config
	cache  *policyCache
	group  singleflight.Group
}

// NewResolver creates a new policy resolver backed by the given store.
func NewResolver(store Store, config Config) (*Resolver, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	config = config.withDefaults()

	return &Resolver{
		store:  store,
		config: config,
		cache:  newPolicyCache(config.PolicyTTL),
	}, nil
}

// ResolveEffectivePolicy returns the effective policy for one gate decision.
//
// Precedence: active tenant config > global default (DefaultDailyLimit per
// day). Inactive configs are ignored. If multiple active configs exist for
// the same key the most recently created wins deterministically and the
// anomaly is logged; it is never fatal.
//
// A store failure is returned as ErrStoreUnavailable. The resolver never
// treats a store error as "no limit": cost-control fails closed.
func (r *Resolver) ResolveEffectivePolicy(ctx context.Context, tenantID string, qt QuotaType) (*ResolvedPolicy, error) {
	if tenantID == "" || qt == "" {
		return nil, ErrInvalidInput
	}

	key := tenantID + ":" + string(qt)
	if policy, ok := r.cache.get(key); ok {
		r.config.Metrics.RecordCacheHit()
		return policy, nil
	}
	r.config.Metrics.RecordCacheMiss()

	// Collapse concurrent misses for the same key into one store fetch.
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, tenantID, qt)
	})
	if err != nil {
		return nil, err
	}

	policy := v.(*ResolvedPolicy)
	r.cache.set(key, policy)

	// Return a copy so callers cannot mutate the cached value.
	out := *policy
	return &out, nil
}

// Invalidate drops any cached policy for a (tenant, quota type) key.
// Call after changing a tenant's quota config.
func (r *Resolver) Invalidate(tenantID string, qt QuotaType) {
	r.cache.invalidate(tenantID + ":" + string(qt))
}

// SetQuotaConfig stores a per-tenant quota config and drops the cached
// policy so the next gate decision sees it. A missing ID and CreatedAt are
// filled in.
func (r *Resolver) SetQuotaConfig(ctx context.Context, cfg *QuotaConfig) error {
	if cfg == nil || cfg.TenantID == "" || cfg.QuotaType == "" {
		return ErrInvalidInput
	}
	if cfg.Limit < 0 {
		return ErrInvalidInput
	}
	if cfg.Period == "" {
		cfg.Period = PeriodTypeDaily
	}
	if cfg.Period != PeriodTypeDaily && cfg.Period != PeriodTypeMonthly {
		return ErrInvalidPeriod
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.PutQuotaConfig(ctx, cfg)
	r.config.Metrics.RecordStoreOperation("put_quota_config", time.Since(start), err)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			// The store rejected the config itself, for example a second
			// active config behind a unique constraint. Not an outage.
			return err
		}
		return fmt.Errorf("%w: storing quota config: %v", ErrStoreUnavailable, err)
	}

	r.Invalidate(cfg.TenantID, cfg.QuotaType)
	return nil
}

func (r *Resolver) resolve(ctx context.Context, tenantID string, qt QuotaType) (*ResolvedPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	configs, err := r.store.GetQuotaConfigs(ctx, tenantID, qt)
	r.config.Metrics.RecordStoreOperation("get_quota_configs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching quota configs: %v", ErrStoreUnavailable, err)
	}

	active := make([]*QuotaConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg != nil && cfg.IsActive {
			active = append(active, cfg)
		}
	}

	if len(active) == 0 {
		policy := &ResolvedPolicy{
			TenantID:  tenantID,
			QuotaType: qt,
			Limit:     r.config.DefaultDailyLimit,
			Period:    PeriodTypeDaily,
			Source:    PolicySourceDefault,
		}
		r.config.Metrics.RecordPolicyResolution(string(policy.Source), false)
		return policy, nil
	}

	conflicted := len(active) > 1
	winner := pickWinner(active)

	if conflicted {
		r.config.Logger.Warn("duplicate active quota configs, most recent wins",
			Field{Key: "tenant_id", Value: tenantID},
			Field{Key: "quota_type", Value: string(qt)},
			Field{Key: "active_configs", Value: len(active)},
			Field{Key: "winner_id", Value: winner.ID},
		)
	}

	policy := &ResolvedPolicy{
		TenantID:   tenantID,
		QuotaType:  qt,
		Limit:      winner.Limit,
		Period:     winner.Period,
		Source:     PolicySourceTenantOverride,
		ConfigID:   winner.ID,
		Conflicted: conflicted,
	}
	if policy.Period == "" {
		policy.Period = PeriodTypeDaily
	}
	r.config.Metrics.RecordPolicyResolution(string(policy.Source), conflicted)
	return policy, nil
}

// pickWinner deterministically picks one config out of several active ones:
// most recently created first, config ID as the tiebreak. Repeated calls
// over the same set always return the same winner.
func pickWinner(active []*QuotaConfig) *QuotaConfig {
	sorted := make([]*QuotaConfig, len(active))
	copy(sorted, active)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted[0]
}
