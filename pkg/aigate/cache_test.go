package aigate

import (
	"testing"
	"time"
)

func testPolicy(limit int) *ResolvedPolicy {
	return &ResolvedPolicy{
		TenantID:  "tenant-1",
		QuotaType: QuotaTypeAIScans,
		Limit:     limit,
		Period:    PeriodTypeDaily,
		Source:    PolicySourceDefault,
	}
}

func TestPolicyCache_SetGet(t *testing.T) {
	c := newPolicyCache(time.Minute)

	c.set("k", testPolicy(10))
	got, ok := c.get("k")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if got.Limit != 10 {
		t.Errorf("Expected limit 10, got %d", got.Limit)
	}

	// Mutating the returned copy must not affect the cached value.
	got.Limit = 999
	again, ok := c.get("k")
	if !ok || again.Limit != 10 {
		t.Errorf("Cache entry was mutated through a returned copy: %+v", again)
	}
}

func TestPolicyCache_ZeroTTLDisables(t *testing.T) {
	c := newPolicyCache(0)

	c.set("k", testPolicy(10))
	if _, ok := c.get("k"); ok {
		t.Error("Zero TTL should disable caching")
	}
}

func TestPolicyCache_Expiry(t *testing.T) {
	c := newPolicyCache(10 * time.Millisecond)

	c.set("k", testPolicy(10))
	if _, ok := c.get("k"); !ok {
		t.Fatal("Expected fresh entry to hit")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Error("Expected entry to expire")
	}
}

func TestPolicyCache_Invalidate(t *testing.T) {
	c := newPolicyCache(time.Minute)

	c.set("k", testPolicy(10))
	c.invalidate("k")
	if _, ok := c.get("k"); ok {
		t.Error("Expected entry to be invalidated")
	}
}

func TestPolicyCache_Clear(t *testing.T) {
	c := newPolicyCache(time.Minute)

	c.set("a", testPolicy(1))
	c.set("b", testPolicy(2))
	c.clear()
	if _, ok := c.get("a"); ok {
		t.Error("Expected cache to be empty after clear")
	}
	if _, ok := c.get("b"); ok {
		t.Error("Expected cache to be empty after clear")
	}
}
