package aigate

import (
	"sync"
	"time"
)

// cacheEntry wraps a cached policy with its expiration time.
type cacheEntry struct {
	policy     *ResolvedPolicy
	expiration time.Time
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// policyCache is a TTL cache for resolved policies. The TTL is bounded by
// Config.PolicyTTL so a cached allowance can never outlive the smallest
// configured period.
type policyCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newPolicyCache(ttl time.Duration) *policyCache {
	return &policyCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *policyCache) get(key string) (*ResolvedPolicy, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.isExpired() {
		return nil, false
	}

	// Return a copy to prevent external mutations
	policy := *entry.policy
	return &policy, true
}

func (c *policyCache) set(key string, policy *ResolvedPolicy) {
	if c.ttl <= 0 {
		return
	}

	policyCopy := *policy

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		policy:     &policyCopy,
		expiration: time.Now().Add(c.ttl),
	}

	// Opportunistic sweep keeps the map from growing unbounded across
	// many tenants; entries are few and small so a full pass is cheap.
	if len(c.entries) > 4096 {
		for k, e := range c.entries {
			if e.isExpired() {
				delete(c.entries, k)
			}
		}
	}
}

func (c *policyCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *policyCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
