package memory

import (
	"context"
	"path"
	"sync"
	"time"
)

type cacheItem struct {
	value   []byte
	expires time.Time
}

// Cache is a process-local CacheRepository with per-key expiry.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheItem
	now   func() time.Time
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheItem), now: time.Now}
}

func (c *Cache) getLocked(key string) ([]byte, bool) {
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		delete(c.items, key)
		return nil, false
	}
	return item.value, true
}

func (c *Cache) setLocked(key string, value []byte, ttl time.Duration) {
	item := cacheItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.items[key] = item
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.getLocked(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return nil
}

func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

// DeletePattern matches keys with path.Match, which agrees with Redis globs
// for the patterns the service uses.
func (c *Cache) DeletePattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.items, k)
			n++
		}
	}
	return n, nil
}

func (c *Cache) Update(_ context.Context, key string, ttl time.Duration, fn func(current []byte) ([]byte, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, _ := c.getLocked(key)
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(c.items, key)
		return nil
	}
	c.setLocked(key, next, ttl)
	return nil
}
