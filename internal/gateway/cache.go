package gateway

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ibkr-copilot/internal/metrics"
)

const (
	keyAccounts = "accounts"
	keyOrders   = "orders"
)

func positionsKey(account string) string {
	if account == "" {
		account = "default"
	}
	return "positions:" + account
}

func summaryKey(account string) string {
	if account == "" {
		account = "default"
	}
	return "summary:" + account
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// Cache holds gateway read results for a fixed TTL. An entry stored at t is
// absent from t+TTL on. All operations take the same lock, so an
// invalidation is never observed half done.
type Cache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, cacheEntry]
	ttl time.Duration
	now func() time.Time
}

func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if ok && c.now().Sub(entry.storedAt) >= c.ttl {
		c.lru.Remove(key)
		ok = false
	}
	metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry{value: value, storedAt: c.now()})
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// InvalidateAfterMutation drops orders and then everything else. Positions and
// balances can move once an order is accepted.
func (c *Cache) InvalidateAfterMutation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(keyOrders)
	c.lru.Purge()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
