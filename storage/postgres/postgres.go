// Package postgres provides a PostgreSQL implementation of the aigate.Store
// interface. Counter reservations run inside a transaction with
// SELECT FOR UPDATE, so the ceiling check and the increment commit together.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glintcare/aigate/pkg/aigate"
)

// Schema is the DDL this adapter expects. The partial unique index encodes
// the single-active-config invariant at the store layer; historical
// inactive rows are allowed to pile up.
const Schema = `
CREATE TABLE IF NOT EXISTS quota_configs (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	quota_type        TEXT NOT NULL,
	limit_amount      INTEGER NOT NULL,
	period_type       TEXT NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	overrides_default BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS quota_configs_single_active
	ON quota_configs (tenant_id, quota_type) WHERE is_active;

CREATE TABLE IF NOT EXISTS usage_counters (
	tenant_id  TEXT NOT NULL,
	quota_type TEXT NOT NULL,
	period_key TEXT NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, quota_type, period_key)
);

CREATE TABLE IF NOT EXISTS usage_events (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	quota_type TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	quantity   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_events_tenant_ts
	ON usage_events (tenant_id, quota_type, ts);

CREATE TABLE IF NOT EXISTS cost_records (
	id        TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	operation TEXT NOT NULL DEFAULT '',
	amount    DOUBLE PRECISION NOT NULL,
	ts        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cost_records_tenant_ts
	ON cost_records (tenant_id, ts);
`

// Store implements aigate.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store adapter.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// InitSchema creates the tables and indexes this adapter expects.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Now implements aigate.TimeSource using database time.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("failed to get database time: %w", err)
	}
	return t.UTC(), nil
}

// GetQuotaConfigs implements aigate.Store.
func (s *Store) GetQuotaConfigs(ctx context.Context, tenantID string, qt aigate.QuotaType) ([]*aigate.QuotaConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, quota_type, limit_amount, period_type, is_active, overrides_default, created_at
			FROM quota_configs
			WHERE tenant_id = $1 AND quota_type = $2
			ORDER BY created_at DESC, id DESC`,
		tenantID, string(qt))
	if err != nil {
		return nil, fmt.Errorf("failed to get quota configs: %w", err)
	}
	defer rows.Close()

	var configs []*aigate.QuotaConfig
	for rows.Next() {
		var cfg aigate.QuotaConfig
		var qtStr, periodStr string
		if err := rows.Scan(&cfg.ID, &cfg.TenantID, &qtStr, &cfg.Limit, &periodStr,
			&cfg.IsActive, &cfg.OverridesDefault, &cfg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota config: %w", err)
		}
		cfg.QuotaType = aigate.QuotaType(qtStr)
		cfg.Period = aigate.PeriodType(periodStr)
		configs = append(configs, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read quota configs: %w", err)
	}
	return configs, nil
}

// PutQuotaConfig implements aigate.Store.
func (s *Store) PutQuotaConfig(ctx context.Context, cfg *aigate.QuotaConfig) error {
	if cfg == nil || cfg.ID == "" || cfg.TenantID == "" || cfg.QuotaType == "" {
		return fmt.Errorf("invalid quota config")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_configs (id, tenant_id, quota_type, limit_amount, period_type, is_active, overrides_default, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				limit_amount = EXCLUDED.limit_amount,
				period_type = EXCLUDED.period_type,
				is_active = EXCLUDED.is_active,
				overrides_default = EXCLUDED.overrides_default`,
		cfg.ID, cfg.TenantID, string(cfg.QuotaType), cfg.Limit, string(cfg.Period),
		cfg.IsActive, cfg.OverridesDefault, cfg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Tripped the single-active-config partial index: the caller
			// tried to activate a second config for the same key.
			return fmt.Errorf("%w: active config already exists for tenant %q quota type %q",
				aigate.ErrInvalidInput, cfg.TenantID, cfg.QuotaType)
		}
		return fmt.Errorf("failed to put quota config: %w", err)
	}
	return nil
}

// ReserveUsage implements aigate.Store with an atomic increment inside a
// transaction: the row is locked, the ceiling checked, and the increment
// committed or rolled back as one unit.
func (s *Store) ReserveUsage(ctx context.Context, req *aigate.ReserveRequest) (int, error) {
	if req == nil || req.Amount <= 0 {
		return 0, aigate.ErrInvalidAmount
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Ensure the counter row exists so FOR UPDATE has something to lock.
	_, err = tx.Exec(ctx,
		`INSERT INTO usage_counters (tenant_id, quota_type, period_key, used)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (tenant_id, quota_type, period_key) DO NOTHING`,
		req.TenantID, string(req.QuotaType), req.Period.Key())
	if err != nil {
		return 0, fmt.Errorf("failed to ensure usage counter: %w", err)
	}

	var current int
	err = tx.QueryRow(ctx,
		`SELECT used FROM usage_counters
			WHERE tenant_id = $1 AND quota_type = $2 AND period_key = $3
			FOR UPDATE`,
		req.TenantID, string(req.QuotaType), req.Period.Key()).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to lock usage counter: %w", err)
	}

	newUsed := current + req.Amount
	if newUsed > req.Limit {
		return current, aigate.ErrLimitExceeded
	}

	_, err = tx.Exec(ctx,
		`UPDATE usage_counters SET used = $4, updated_at = now()
			WHERE tenant_id = $1 AND quota_type = $2 AND period_key = $3`,
		req.TenantID, string(req.QuotaType), req.Period.Key(), newUsed)
	if err != nil {
		return 0, fmt.Errorf("failed to update usage counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return newUsed, nil
}

// ReleaseUsage implements aigate.Store, clamping the counter at zero.
func (s *Store) ReleaseUsage(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period, amount int) error {
	if amount <= 0 {
		return aigate.ErrInvalidAmount
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE usage_counters SET used = GREATEST(used - $4, 0), updated_at = now()
			WHERE tenant_id = $1 AND quota_type = $2 AND period_key = $3`,
		tenantID, string(qt), period.Key(), amount)
	if err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// UsageCount implements aigate.Store.
func (s *Store) UsageCount(ctx context.Context, tenantID string, qt aigate.QuotaType, period aigate.Period) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM usage_counters
			WHERE tenant_id = $1 AND quota_type = $2 AND period_key = $3`,
		tenantID, string(qt), period.Key()).Scan(&used)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage count: %w", err)
	}
	return used, nil
}

// AppendEvent implements aigate.Store.
func (s *Store) AppendEvent(ctx context.Context, ev *aigate.UsageEvent) error {
	if ev == nil || ev.TenantID == "" || ev.QuotaType == "" || ev.Quantity <= 0 {
		return fmt.Errorf("invalid usage event")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (id, tenant_id, quota_type, ts, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.TenantID, string(ev.QuotaType), ev.Timestamp, ev.Quantity)
	if err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}
	return nil
}

// CountEvents implements aigate.Store.
func (s *Store) CountEvents(ctx context.Context, tenantID string, qt aigate.QuotaType, from, to time.Time) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM usage_events
			WHERE tenant_id = $1 AND quota_type = $2 AND ts >= $3 AND ts < $4`,
		tenantID, string(qt), from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_records (id, tenant_id, operation, amount, ts)
			VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.TenantID, rec.Operation, rec.Amount, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append cost record: %w", err)
	}
	return nil
}

// SumCost implements aigate.Store.
func (s *Store) SumCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM cost_records
			WHERE tenant_id = $1 AND ts >= $2 AND ts < $3`,
		tenantID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cost: %w", err)
	}
	return total, nil
}

// ListCosts implements aigate.Store.
func (s *Store) ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]*aigate.CostRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, operation, amount, ts FROM cost_records
			WHERE tenant_id = $1 AND ts >= $2 AND ts < $3
			ORDER BY ts ASC`,
		tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	defer rows.Close()

	var out []*aigate.CostRecord
	for rows.Next() {
		var rec aigate.CostRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Operation, &rec.Amount, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cost records: %w", err)
	}
	return out, nil
}
