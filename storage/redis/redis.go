// Package redis provides a Redis implementation of the aigate.Store
// interface. Counter mutations go through Lua scripts so the ceiling check
// and the increment are one atomic server-side operation.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glintcare/aigate/pkg/aigate"
)

// Store implements aigate.Store using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "aigate:")
	KeyPrefix string

	// Location is the business time zone used to bucket events and costs
	// by day. It must match the gate's configured location
	// (default: Asia/Bangkok).
	Location *time.Location

	// RetentionDays is the TTL applied to event/cost day buckets, and
	// bounds how far back windows can reach (default: 93).
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "aigate:",
		RetentionDays: 93,
	}
}

// New creates a new Redis store adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "aigate:"
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 93
	}
	if config.Location == nil {
		loc, err := time.LoadLocation(aigate.DefaultTimeZone)
		if err != nil {
			loc = time.FixedZone("ICT", 7*60*60)
		}
		config.Location = loc
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic counter operations.
func (s *Store) loadScripts() {
	// Reserve usage atomically against a ceiling
	s.scripts["reserve"] = redis.NewScript(`
		local key = KEYS[1]
		local amount = tonumber(ARGV[1])
		local limit = tonumber(ARGV[2])
		local ttl = tonumber(ARGV[3])

		local current = tonumber(redis.call('GET', key) or '0')
		local newUsed = current + amount
		if newUsed > limit then
			return {current, 'limit_exceeded'}
		end

		redis.call('SET', key, newUsed)
		if ttl > 0 then
			redis.call('EXPIRE', key, ttl)
		end

		return {newUsed, 'ok'}
	`)

	// Release usage, clamped at zero
	s.scripts["release"] = redis.NewScript(`
		local key = KEYS[1]
		local amount = tonumber(ARGV[1])

		local current = tonumber(redis.call('GET', key) or '0')
		local newUsed = current - amount
		if newUsed < 0 then
			newUsed = 0
		end

		redis.call('SET', key, newUsed, 'KEEPTTL')
		return newUsed
	`)
}

// Now implements aigate.TimeSource using the Redis TIME command, so period
// boundaries agree across application hosts.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get redis time: %w", err)
	}
	return t.UTC(), nil
}

// GetQuotaConfigs implements aigate.Store.
func (s *Store) GetQuotaConfigs(ctx context.Context, tenantID string, qt aigate.QuotaType) ([]*aigate.QuotaConfig, error) {
	fields, err := s.client.HGetAll(ctx, s.configKey(tenantID, qt)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get quota configs: %w", err)
	}

	configs := make([]*aigate.QuotaConfig, 0, len(fields))
	for _, raw := range fields {
		var cfg aigate.QuotaConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode quota config: %w", err)
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}

// PutQuotaConfig implements aigate.Store.
func (s *Store) PutQuotaConfig(ctx context.Context, cfg *aigate.QuotaConfig) error {
	if cfg == nil || cfg.ID == "" || cfg.TenantID == "" || cfg.QuotaType == "" {
		return fmt.Errorf("invalid quota config")
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode quota config: %w", err)
	}

	if err := s.client.HSet(ctx, s.configKey(cfg.TenantID, cfg.QuotaType), cfg.ID, raw).Err(); err != nil {
		return fmt.Errorf("failed to put quota config: %w", err)
	}
	return nil
}

// ReserveUsage implements aigate.Store via the reserve Lua script.
func (s *Store) ReserveUsage(ctx context.Context, req *aigate.ReserveRequest) (int, error) {
	if req == nil || req.Amount <= 0 {
		return 0, aigate.ErrInvalidAmount
	}

	key := s.counterKey(req.TenantID, req.QuotaType, req.Period)
	ttl := counterTTL(req.Period)

	res, err := s.scripts["reserve"].Run(ctx, s.client,
		[]string{key}, req.Amount, req.Limit, ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve usage: %w", err)
	}

	used, status, err := parseScriptResult(res)
	if err != nil {
		return 0, err
	}
	if status == "limit_exceeded" {
		return used, aigate.ErrLimitExceeded
	}
	return used, nil
}

// ReleaseUsage implements aigate.Store via the release Lua script.
func (s *Store) ReleaseUsage(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period, amount int) error {
	if amount <= 0 {
		return aigate.ErrInvalidAmount
	}

	key := s.counterKey(tenantID, qt, period)
	if err := s.scripts["release"].Run(ctx, s.client, []string{key}, amount).Err(); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// UsageCount implements aigate.Store.
func (s *Store) UsageCount(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period) (int, error) {
	val, err := s.client.Get(ctx, s.counterKey(tenantID, qt, period)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage count: %w", err)
	}
	return val, nil
}

// AppendEvent implements aigate.Store. Events are aggregated into per-day
// quantity buckets; the day is the event's business day in the configured
// location.
func (s *Store) AppendEvent(ctx context.Context, ev *aigate.UsageEvent) error {
	if ev == nil || ev.TenantID == "" || ev.QuotaType == "" || ev.Quantity <= 0 {
		return fmt.Errorf("invalid usage event")
	}

	key := s.eventKey(ev.TenantID, ev.QuotaType, ev.Timestamp)
	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(ev.Quantity))
	pipe.Expire(ctx, key, time.Duration(s.config.RetentionDays)*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}
	return nil
}

// CountEvents implements aigate.Store by summing the day buckets covered
// by [from, to). Windows must be day-aligned in the configured location;
// that is what the aggregator produces.
func (s *Store) CountEvents(ctx context.Context, tenantID string, qt aigate.QuotaType, from, to time.Time) (int, error) {
	keys := make([]string, 0, 8)
	for day := startOfDay(from, s.config.Location); day.Before(to); day = day.AddDate(0, 0, 1) {
		keys = append(keys, s.eventKey(tenantID, qt, day))
	}
	if len(keys) == 0 {
		return 0, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	total := 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		n, err := parseInt(v)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// AppendCost implements aigate.Store. Each record lands in a per-day list
// for reporting plus a per-day running sum used by the budget check.
func (s *Store) AppendCost(ctx context.Context, rec *aigate.CostRecord) error {
	if rec == nil || rec.TenantID == "" {
		return fmt.Errorf("invalid cost record")
	}
	if rec.Amount < 0 {
		return aigate.ErrInvalidAmount
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cost record: %w", err)
	}

	day := startOfDay(rec.Timestamp, s.config.Location)
	sumKey := s.costSumKey(rec.TenantID, day)
	listKey := s.costListKey(rec.TenantID, day)
	retention := time.Duration(s.config.RetentionDays) * 24 * time.Hour

	pipe := s.client.TxPipeline()
	pipe.IncrByFloat(ctx, sumKey, rec.Amount)
	pipe.Expire(ctx, sumKey, retention)
	pipe.RPush(ctx, listKey, raw)
	pipe.Expire(ctx, listKey, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append cost record: %w", err)
	}
	return nil
}

// SumCost implements aigate.Store by summing the per-day running sums in
// the window.
func (s *Store) SumCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	keys := make([]string, 0, 8)
	for day := startOfDay(from, s.config.Location); day.Before(to); day = day.AddDate(0, 0, 1) {
		keys = append(keys, s.costSumKey(tenantID, day))
	}
	if len(keys) == 0 {
		return 0, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to sum cost: %w", err)
	}

	total := 0.0
	for _, v := range vals {
		if v == nil {
			continue
		}
		f, err := parseFloat(v)
		if err != nil {
			return 0, err
		}
		total += f
	}
	return total, nil
}

// ListCosts implements aigate.Store.
func (s *Store) ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]*aigate.CostRecord, error) {
	var out []*aigate.CostRecord
	for day := startOfDay(from, s.config.Location); day.Before(to); day = day.AddDate(0, 0, 1) {
		raws, err := s.client.LRange(ctx, s.costListKey(tenantID, day), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list cost records: %w", err)
		}
		for _, raw := range raws {
			var rec aigate.CostRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return nil, fmt.Errorf("failed to decode cost record: %w", err)
			}
			if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
				continue
			}
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (s *Store) configKey(tenantID string, qt aigate.QuotaType) string {
	return fmt.Sprintf("%scfg:%s:%s", s.config.KeyPrefix, tenantID, qt)
}

func (s *Store) counterKey(tenantID string, qt aigate.QuotaType, period aigate.Period) string {
	return fmt.Sprintf("%scnt:%s:%s:%s", s.config.KeyPrefix, tenantID, qt, period.Key())
}

func (s *Store) eventKey(tenantID string, qt aigate.QuotaType, t time.Time) string {
	day := startOfDay(t, s.config.Location).Format("2006-01-02")
	return fmt.Sprintf("%sevt:%s:%s:%s", s.config.KeyPrefix, tenantID, qt, day)
}

func (s *Store) costSumKey(tenantID string, day time.Time) string {
	return fmt.Sprintf("%scost:%s:%s", s.config.KeyPrefix, tenantID, day.Format("2006-01-02"))
}

func (s *Store) costListKey(tenantID string, day time.Time) string {
	return fmt.Sprintf("%scosts:%s:%s", s.config.KeyPrefix, tenantID, day.Format("2006-01-02"))
}

// counterTTL expires a period counter a day after the period ends, leaving
// slack for late debug reads.
func counterTTL(period aigate.Period) int {
	ttl := time.Until(period.End.Add(24 * time.Hour))
	if ttl <= 0 {
		return 1
	}
	return int(ttl.Seconds())
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	tt := t.In(loc)
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, loc)
}

func parseScriptResult(res interface{}) (int, string, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, "", fmt.Errorf("unexpected script result: %v", res)
	}
	used, err := parseInt(arr[0])
	if err != nil {
		return 0, "", err
	}
	status, ok := arr[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("unexpected script status: %v", arr[1])
	}
	return used, status, nil
}

func parseInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case string:
		var out int
		if _, err := fmt.Sscanf(n, "%d", &out); err != nil {
			return 0, fmt.Errorf("unexpected integer value %q: %w", n, err)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("unexpected integer value: %v", v)
	}
}

func parseFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case string:
		var out float64
		if _, err := fmt.Sscanf(n, "%g", &out); err != nil {
			return 0, fmt.Errorf("unexpected float value %q: %w", n, err)
		}
		return out, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unexpected float value: %v", v)
	}
}
