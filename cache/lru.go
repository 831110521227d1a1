package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache defines the common interface for bounded in-process caches.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Len() int
	Purge()
}

type lruEntry struct {
	key     string
	value   any
	expires time.Time
	elem    *list.Element
}

type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*lruEntry
	order    *list.List
}

// NewLRU creates an LRU cache with capacity and default TTL. A zero
// capacity defaults to 512 entries and a zero TTL to one minute.
func NewLRU(capacity int, ttl time.Duration) Cache {
	return newLRU(capacity, ttl, time.Now)
}

func newLRU(capacity int, ttl time.Duration, now func() time.Time) *lruCache {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		items:    make(map[string]*lruEntry, capacity),
		order:    list.New(),
	}
}

func (c *lruCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(ent.expires) {
		c.remove(ent)
		return nil, false
	}
	c.order.MoveToFront(ent.elem)
	return ent.value, true
}

// Set stores value. ttl <= 0 uses the cache default.
func (c *lruCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttl
	}
	expires := c.now().Add(ttl)
	if ent, ok := c.items[key]; ok {
		ent.value = value
		ent.expires = expires
		c.order.MoveToFront(ent.elem)
		return
	}
	for len(c.items) >= c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.remove(c.items[back.Value.(string)])
	}
	ent := &lruEntry{key: key, value: value, expires: expires}
	ent.elem = c.order.PushFront(key)
	c.items[key] = ent
}

func (c *lruCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.remove(ent)
	}
}

func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lruCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruEntry, c.capacity)
	c.order.Init()
}

func (c *lruCache) remove(ent *lruEntry) {
	c.order.Remove(ent.elem)
	delete(c.items, ent.key)
}
