package quote

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"tradeflow/pkg/types"
)

const (
	DefaultCacheTTL  = 20 * time.Second
	DefaultCacheSize = 120
)

// Entry is a cached quote outcome. Exactly one of Quote or Err is set.
type Entry struct {
	Quote         *types.Quote
	DisplayAmount string
	Err           string
	ExpiresAt     time.Time
}

// Cache is a bounded TTL store of quote outcomes keyed by request key.
// When full, the entry inserted longest ago is evicted.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, Entry]
	ttl time.Duration
	now func() time.Time
}

// NewCache creates a cache. Non-positive arguments select the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	// only fails on a non-positive size
	lru, _ := simplelru.NewLRU[string, Entry](size, nil)
	return &Cache{lru: lru, ttl: ttl, now: time.Now}
}

// Get returns an unexpired entry. Expired entries are removed on the way.
// Lookups do not refresh an entry's position; eviction follows insertion order.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		return Entry{}, false
	}
	if !c.now().Before(e.ExpiresAt) {
		c.lru.Remove(key)
		return Entry{}, false
	}
	return e, true
}

// Set stores e under key with a fresh expiry
func (c *Cache) Set(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.ExpiresAt = c.now().Add(c.ttl)
	// re-inserting a key counts as the newest insertion
	c.lru.Remove(key)
	c.lru.Add(key, e)
}

// Len returns the number of stored entries, expired or not
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
