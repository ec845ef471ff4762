package dexscreener

import (
	"container/list"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// TTL response cache — per-URL, bounded, LRU eviction
// ---------------------------------------------------------------------------

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// ttlCache is a small bounded cache for raw response bodies. Expired
// entries are refetched, never served. Eviction is LRU when the cache
// exceeds maxSize.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List // front = most recently used
	items   map[string]*list.Element
}

func newTTLCache(ttl time.Duration, maxSize int) *ttlCache {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &ttlCache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// get returns the cached body for key, or nil when absent or expired.
func (c *ttlCache) get(key string, now time.Time) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if now.After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil
	}
	c.order.MoveToFront(el)
	return entry.value
}

// set stores body under key. A zero ttl uses the cache default.
func (c *ttlCache) set(key string, body []byte, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = body
		entry.expiresAt = now.Add(ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, value: body, expiresAt: now.Add(ttl)})
	c.items[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// len reports the current entry count.
func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
