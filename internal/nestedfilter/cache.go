package nestedfilter

import (
	"fmt"
	"sync"
)

// ResultCache memoizes entities fetched by GetNestedResult, keyed by type
// and cache key. Implementations must be safe for concurrent use.
type ResultCache interface {
	Lookup(t Type, key any) (any, bool)
	Store(t Type, key any, v any)
	Reset()
}

// MemoryCache is an unbounded in-memory ResultCache. Keys are compared by
// their string form, so 1 and "1" share an entry and nil is "null".
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Type]map[string]any
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Type]map[string]any)}
}

func (c *MemoryCache) Lookup(t Type, key any) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[t][cacheKeyString(key)]
	return v, ok
}

func (c *MemoryCache) Store(t Type, key any, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[Type]map[string]any)
	}
	byKey, ok := c.entries[t]
	if !ok {
		byKey = make(map[string]any)
		c.entries[t] = byKey
	}
	byKey[cacheKeyString(key)] = v
}

// Reset drops every entry.
func (c *MemoryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Type]map[string]any)
}

// Len returns the number of cached entities.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byKey := range c.entries {
		n += len(byKey)
	}
	return n
}

func cacheKeyString(key any) string {
	if key == nil {
		return "null"
	}
	return fmt.Sprint(key)
}
