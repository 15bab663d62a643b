package website

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cache is a bounded per-instance cache for lookups such as tag or folder
// lists. It is purged when the account logs out.
type Cache struct {
	lru *lru.Cache
}

// NewCache returns a cache holding at most size entries.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = instanceCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the entry for key and marks it recently used.
func (c *Cache) Get(key string) (any, bool) { return c.lru.Get(key) }

// Add stores v, evicting the least recently used entry when full.
func (c *Cache) Add(key string, v any) { c.lru.Add(key, v) }

// Len reports the number of entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge removes every entry.
func (c *Cache) Purge() { c.lru.Purge() }

// Cached returns the cached T for key, calling load and caching its result on
// a miss. Errors are not cached.
func Cached[T any](c *Cache, key string, load func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	t, err := load()
	if err != nil {
		return t, err
	}
	c.Add(key, t)
	return t, nil
}
