package cache

import (
	"sync"
	"time"
)

// InMemoryCache 带 TTL 的内存缓存。过期条目仍可通过 GetStale 读取，用于上游不可用时兜底。
type InMemoryCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]cacheItem[V]
	ttl   time.Duration
	now   func() time.Time
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

func NewInMemoryCache[K comparable, V any](ttl time.Duration) *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		items: make(map[K]cacheItem[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a value that has not expired.
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || !c.now().Before(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// GetStale returns the last stored value regardless of expiry.
func (c *InMemoryCache[K, V]) GetStale(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	return item.value, ok
}

func (c *InMemoryCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
