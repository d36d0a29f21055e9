package schema

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache holds built contexts keyed by tenant.
type Cache interface {
	Get(ctx context.Context, tenantID string) (Context, bool, error)
	Set(ctx context.Context, tenantID string, value Context, ttl time.Duration) error
}

// MemoryCache is an LRU with per-entry expiry.
type MemoryCache struct {
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List
}

type cacheEntry struct {
	tenantID  string
	value     Context
	expiresAt time.Time
	element   *list.Element
}

func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryCache{
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

func (c *MemoryCache) Get(_ context.Context, tenantID string) (Context, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tenantID]
	if !ok {
		return Context{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(tenantID)
		return Context{}, false, nil
	}
	c.lru.MoveToFront(entry.element)
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, tenantID string, value Context, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if entry, ok := c.entries[tenantID]; ok {
		entry.value = value
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(entry.element)
		return nil
	}

	entry := &cacheEntry{tenantID: tenantID, value: value, expiresAt: expiresAt}
	entry.element = c.lru.PushFront(entry)
	c.entries[tenantID] = entry

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*cacheEntry).tenantID)
		}
	}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeLocked(tenantID string) {
	if entry, ok := c.entries[tenantID]; ok {
		c.lru.Remove(entry.element)
		delete(c.entries, tenantID)
	}
}
