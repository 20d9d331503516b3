package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"donation-settlement-backend/internal/models"
)

const mappingKey = "settlement:business_mappings"

// RedisMappingCache shares one mapping snapshot across instances. Same
// read-through contract as TTLMappingCache; useful once more than one server
// handles sync callbacks.
type RedisMappingCache struct {
	source MappingSource
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMappingCache(source MappingSource, client *redis.Client, ttl time.Duration) *RedisMappingCache {
	return &RedisMappingCache{source: source, client: client, ttl: ttl}
}

func (c *RedisMappingCache) Get(ctx context.Context) ([]models.BusinessMapping, error) {
	raw, err := c.client.Get(ctx, mappingKey).Bytes()
	if err == nil {
		var mappings []models.BusinessMapping
		if err := json.Unmarshal(raw, &mappings); err == nil {
			return mappings, nil
		}
		// Corrupt entry, fall through to a refresh.
	} else if err != redis.Nil {
		// Redis unavailable: go straight to the source rather than failing
		// transaction matching.
		return c.source.ListActiveMappings(ctx)
	}

	mappings, err := c.source.ListActiveMappings(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(mappings); err == nil {
		_ = c.client.Set(ctx, mappingKey, raw, c.ttl).Err()
	}

	return mappings, nil
}

func (c *RedisMappingCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, mappingKey).Err()
}
