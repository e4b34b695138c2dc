package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// Cache defines the interface for report status caching implementations.
// Get returns the cached report if present and not expired, Set stores it with TTL.
type Cache interface {
	Get(ctx context.Context, reportID string) (models.Report, bool, error)
	Set(ctx context.Context, reportID string, value models.Report, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use: report runs
// write from background goroutines while handlers read.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached report with expiration timestamp.
type cacheEntry struct {
	value     models.Report
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached report if present and not expired.
// Returns (report, true, nil) on cache hit, (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, reportID string) (models.Report, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[reportID]
	c.mu.RUnlock()
	if !ok {
		return models.Report{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.data[reportID]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.data, reportID)
		}
		c.mu.Unlock()
		return models.Report{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a report in cache with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, reportID string, value models.Report, ttl time.Duration) error {
	c.mu.Lock()
	c.data[reportID] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
