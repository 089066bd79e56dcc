package conditions

import (
	"sync"
	"time"
)

// DefinitionsCache caches the enabled definitions list so audits do not hit
// the database for every section.
type DefinitionsCache interface {
	// Get returns the cached definitions, or nil on a miss or expiry.
	Get() []*Definition

	Set(defs []*Definition)

	// Invalidate clears the cache, forcing a reload on the next Get.
	Invalidate()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries. Zero means entries only
	// expire through Invalidate.
	TTL time.Duration
}

// DefaultCacheConfig invalidates on mutation only.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// InMemoryDefinitionsCache is a DefinitionsCache held in process memory.
type InMemoryDefinitionsCache struct {
	defs     []*Definition
	cachedAt time.Time
	config   CacheConfig
	isValid  bool
	mu       sync.RWMutex
}

func NewInMemoryDefinitionsCache(config CacheConfig) *InMemoryDefinitionsCache {
	return &InMemoryDefinitionsCache{config: config}
}

func (c *InMemoryDefinitionsCache) Get() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	out := make([]*Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

func (c *InMemoryDefinitionsCache) Set(defs []*Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defs = make([]*Definition, len(defs))
	copy(c.defs, defs)
	c.cachedAt = time.Now()
	c.isValid = true
}

func (c *InMemoryDefinitionsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.defs = nil
}
