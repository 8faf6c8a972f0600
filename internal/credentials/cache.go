package credentials

import (
	"sync"
	"time"
)

// DefaultTTL is how long a resolved credential stays cached per tenant.
// A cache hit skips validation entirely (stale-but-fast).
const DefaultTTL = 5 * time.Minute

// Cache is the injectable credential cache keyed by tenant id
//
//go:generate mockgen -destination=mocks/mock_cache.go -package=mocks -source=cache.go Cache
type Cache interface {
	Get(tenantID string) (Credentials, bool)
	Set(tenantID string, creds Credentials)
	Invalidate(tenantID string)
}

// memoryCache is an in-process TTL map. A process restart clears it safely;
// the next trigger re-validates.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	creds    Credentials
	deadline time.Time
}

var _ Cache = (*memoryCache)(nil)

// CacheOption configures the in-memory cache
type CacheOption func(*memoryCache)

// WithCacheTTL overrides the entry lifetime
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *memoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// withCacheClock injects a clock, used by tests
func withCacheClock(now func() time.Time) CacheOption {
	return func(c *memoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates an in-process credential cache
func NewMemoryCache(opts ...CacheOption) Cache {
	c := &memoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *memoryCache) Get(tenantID string) (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[tenantID]
	if !ok || c.now().After(entry.deadline) {
		delete(c.entries, tenantID)
		return Credentials{}, false
	}
	return entry.creds, true
}

func (c *memoryCache) Set(tenantID string, creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = cacheEntry{creds: creds, deadline: c.now().Add(c.ttl)}
}

func (c *memoryCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}
