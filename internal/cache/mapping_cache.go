package cache

import (
	"context"
	"sync"
	"time"

	"donation-settlement-backend/internal/models"
)

// MappingSource loads the active mapping set in stable scan order.
type MappingSource interface {
	ListActiveMappings(ctx context.Context) ([]models.BusinessMapping, error)
}

// MappingCache is the read-through cache in front of the mapping table. The
// staleness window (TTL) is a deliberate trade-off against administrative
// update latency; Invalidate exists for admin updates that can't wait it out.
type MappingCache interface {
	Get(ctx context.Context) ([]models.BusinessMapping, error)
	Invalidate(ctx context.Context) error
}

// TTLMappingCache keeps a point-in-time copy of the mapping set in memory.
// Refresh swaps the whole slice, never mutates in place, so concurrent
// readers always see a consistent snapshot.
type TTLMappingCache struct {
	source MappingSource
	ttl    time.Duration

	mu        sync.RWMutex
	mappings  []models.BusinessMapping
	expiresAt time.Time
}

func NewTTLMappingCache(source MappingSource, ttl time.Duration) *TTLMappingCache {
	return &TTLMappingCache{source: source, ttl: ttl}
}

func (c *TTLMappingCache) Get(ctx context.Context) ([]models.BusinessMapping, error) {
	c.mu.RLock()
	if c.mappings != nil && time.Now().Before(c.expiresAt) {
		mappings := c.mappings
		c.mu.RUnlock()
		return mappings, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if c.mappings != nil && time.Now().Before(c.expiresAt) {
		return c.mappings, nil
	}

	mappings, err := c.source.ListActiveMappings(ctx)
	if err != nil {
		// Serve the stale copy if we have one; a scan is better late than never.
		if c.mappings != nil {
			return c.mappings, nil
		}
		return nil, err
	}

	c.mappings = mappings
	c.expiresAt = time.Now().Add(c.ttl)
	return mappings, nil
}

func (c *TTLMappingCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings = nil
	c.expiresAt = time.Time{}
	return nil
}
