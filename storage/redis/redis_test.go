package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glintcare/aigate/pkg/aigate"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	client := setupTestRedis(t)
	config := DefaultConfig()
	config.KeyPrefix = "aigate_test:"

	store, err := New(client, config)
	require.NoError(t, err)
	return store
}

func testPeriod(store *Store, now time.Time) aigate.Period {
	start := startOfDay(now, store.config.Location)
	return aigate.Period{Start: start, End: start.AddDate(0, 0, 1), Type: aigate.PeriodTypeDaily}
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err, "nil client must be rejected")

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	store, err := New(client, Config{})
	require.NoError(t, err)
	assert.Equal(t, "aigate:", store.config.KeyPrefix, "empty config gets defaults")
	assert.NotNil(t, store.config.Location)
}

func TestReserveUsageCeiling(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now, err := store.Now(ctx)
	require.NoError(t, err)
	period := testPeriod(store, now)

	req := &aigate.ReserveRequest{
		TenantID:  "tenant-1",
		QuotaType: aigate.QuotaTypeAIScans,
		Period:    period,
		Amount:    1,
		Limit:     2,
	}

	used, err := store.ReserveUsage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	used, err = store.ReserveUsage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, used)

	used, err = store.ReserveUsage(ctx, req)
	assert.ErrorIs(t, err, aigate.ErrLimitExceeded)
	assert.Equal(t, 2, used, "ceiling trip reports the current count")

	count, err := store.UsageCount(ctx, "tenant-1", aigate.QuotaTypeAIScans, period)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReserveUsageConcurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now, err := store.Now(ctx)
	require.NoError(t, err)
	period := testPeriod(store, now)

	const workers = 30
	const limit = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ReserveUsage(ctx, &aigate.ReserveRequest{
				TenantID:  "tenant-1",
				QuotaType: aigate.QuotaTypeAIScans,
				Period:    period,
				Amount:    1,
				Limit:     limit,
			})
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted, "the Lua script must admit exactly the limit")
}

func TestReleaseUsageClampsAtZero(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now, err := store.Now(ctx)
	require.NoError(t, err)
	period := testPeriod(store, now)

	_, err = store.ReserveUsage(ctx, &aigate.ReserveRequest{
		TenantID:  "tenant-1",
		QuotaType: aigate.QuotaTypeAIScans,
		Period:    period,
		Amount:    1,
		Limit:     10,
	})
	require.NoError(t, err)

	require.NoError(t, store.ReleaseUsage(ctx, "tenant-1", aigate.QuotaTypeAIScans, period, 5))

	count, err := store.UsageCount(ctx, "tenant-1", aigate.QuotaTypeAIScans, period)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestQuotaConfigRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cfg := &aigate.QuotaConfig{
		ID:        "cfg-1",
		TenantID:  "tenant-1",
		QuotaType: aigate.QuotaTypeAIScans,
		Limit:     10,
		Period:    aigate.PeriodTypeDaily,
		IsActive:  true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.PutQuotaConfig(ctx, cfg))

	cfg.Limit = 25
	require.NoError(t, store.PutQuotaConfig(ctx, cfg))

	configs, err := store.GetQuotaConfigs(ctx, "tenant-1", aigate.QuotaTypeAIScans)
	require.NoError(t, err)
	require.Len(t, configs, 1, "same ID must replace, not append")
	assert.Equal(t, 25, configs[0].Limit)
	assert.True(t, configs[0].IsActive)
}

func TestEventsAndCosts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now, err := store.Now(ctx)
	require.NoError(t, err)

	require.NoError(t, store.AppendEvent(ctx, &aigate.UsageEvent{
		ID:        "ev-1",
		TenantID:  "tenant-1",
		QuotaType: aigate.QuotaTypeAIScans,
		Timestamp: now,
		Quantity:  2,
	}))

	count, err := store.CountEvents(ctx, "tenant-1", aigate.QuotaTypeAIScans, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.AppendCost(ctx, &aigate.CostRecord{
		ID:        "c-1",
		TenantID:  "tenant-1",
		Operation: "skin_scan",
		Amount:    2.5,
		Timestamp: now,
	}))
	require.NoError(t, store.AppendCost(ctx, &aigate.CostRecord{
		ID:        "c-2",
		TenantID:  "tenant-1",
		Operation: "food_scan",
		Amount:    1.5,
		Timestamp: now,
	}))

	sum, err := store.SumCost(ctx, "tenant-1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, sum, 1e-9)

	records, err := store.ListCosts(ctx, "tenant-1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestNowUsesServerClock(t *testing.T) {
	store := setupTestStore(t)

	now, err := store.Now(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, time.Minute)
}
