// Package analysiscache caches per-section analysis documents. Entries are
// grouped by course so a new audit can drop every section of a course at once.
package analysiscache

import (
	"context"
	"sync"
	"time"
)

// Cache stores encoded section analyses. Implementations treat a missing or
// expired entry as a miss, never as an error.
type Cache interface {
	Get(ctx context.Context, courseID, sectionID int64) ([]byte, bool, error)
	Set(ctx context.Context, courseID, sectionID int64, value []byte) error

	// Invalidate drops every cached section of the course.
	Invalidate(ctx context.Context, courseID int64) error

	// InvalidateAll drops every cached section, used when the rule set changes.
	InvalidateAll(ctx context.Context) error
}

// Config holds cache configuration.
type Config struct {
	TTL time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{TTL: 10 * time.Minute}
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryCache implements Cache with a map per course.
type InMemoryCache struct {
	courses map[int64]map[int64]entry
	config  Config
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache(config Config) *InMemoryCache {
	return &InMemoryCache{
		courses: make(map[int64]map[int64]entry),
		config:  config,
		now:     time.Now,
	}
}

func (c *InMemoryCache) Get(_ context.Context, courseID, sectionID int64) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.courses[courseID][sectionID]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *InMemoryCache) Set(_ context.Context, courseID, sectionID int64, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sections, ok := c.courses[courseID]
	if !ok {
		sections = make(map[int64]entry)
		c.courses[courseID] = sections
	}
	sections[sectionID] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(c.config.TTL),
	}
	return nil
}

func (c *InMemoryCache) Invalidate(_ context.Context, courseID int64) error {
	c.mu.Lock()
	delete(c.courses, courseID)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	c.courses = make(map[int64]map[int64]entry)
	c.mu.Unlock()
	return nil
}
