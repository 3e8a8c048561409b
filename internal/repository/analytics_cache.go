package repository

import (
	"sync"

	"github.com/noah-isme/attendance-dashboard/internal/models"
)

// AnalyticsCache keeps the last fetched analytics per course for the life of a
// dashboard. There is no TTL; entries are replaced wholesale on refetch.
type AnalyticsCache struct {
	mu      sync.RWMutex
	entries map[models.ID]models.AnalyticsResult
}

// NewAnalyticsCache returns an empty cache.
func NewAnalyticsCache() *AnalyticsCache {
	return &AnalyticsCache{entries: make(map[models.ID]models.AnalyticsResult)}
}

// Put overwrites the entry for the course.
func (c *AnalyticsCache) Put(courseID models.ID, result models.AnalyticsResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[courseID] = result
}

// Get returns the cached entry for the course.
func (c *AnalyticsCache) Get(courseID models.ID) (models.AnalyticsResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.entries[courseID]
	return result, ok
}

// All returns a copy of every entry.
func (c *AnalyticsCache) All() map[models.ID]models.AnalyticsResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.ID]models.AnalyticsResult, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Clear drops every entry.
func (c *AnalyticsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[models.ID]models.AnalyticsResult)
}
