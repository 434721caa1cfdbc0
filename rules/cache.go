package rules

import (
	"sync"
	"time"
)

// RulesCache caches the active rules list so the dispatcher does not hit the
// store on every signal. Implementations must be safe for concurrent use.
type RulesCache interface {
	// Get retrieves cached rules, returns nil on miss or expiry
	Get() []*Rule

	// Set stores rules in cache
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries. Zero means no expiration;
	// the cache is refreshed only on rule mutations.
	TTL time.Duration
}

// DefaultCacheConfig returns the default of mutation-driven invalidation
// with no TTL.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// InMemoryRulesCache is the in-process RulesCache implementation.
type InMemoryRulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	mu       sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

// Get returns the cached rules list, or nil if the cache is invalid or past
// its TTL. The returned slice is a copy.
func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Set stores a copy of the rules list.
func (c *InMemoryRulesCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.valid = true
}

// Invalidate clears the cache.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}
