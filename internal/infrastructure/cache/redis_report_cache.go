package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultReportKeyPrefix = "treasury:report:"

// RedisReportCache stores encoded reports in Redis. Each tenant has a
// generation counter embedded in its keys; invalidation bumps the counter and
// leaves the stale keys to expire.
type RedisReportCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisReportCache creates a Redis report cache
func NewRedisReportCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisReportCache {
	if keyPrefix == "" {
		keyPrefix = defaultReportKeyPrefix
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisReportCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *RedisReportCache) generationKey(tenantID uuid.UUID) string {
	return c.keyPrefix + "gen:" + tenantID.String()
}

// Generation returns the tenant's invalidation counter
func (c *RedisReportCache) Generation(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read report cache generation: %w", err)
	}
	return gen, nil
}

func (c *RedisReportCache) entryKey(tenantID uuid.UUID, gen int64, key string) string {
	return fmt.Sprintf("%s%s:%d:%s", c.keyPrefix, tenantID, gen, key)
}

// Get returns the cached report of the tenant's current generation
func (c *RedisReportCache) Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error) {
	gen, err := c.Generation(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	data, err := c.client.Get(ctx, c.entryKey(tenantID, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached report: %w", err)
	}
	return data, true, nil
}

// Set stores the report under the tenant's current generation
func (c *RedisReportCache) Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte) error {
	gen, err := c.Generation(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.entryKey(tenantID, gen, key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache report: %w", err)
	}
	return nil
}

// SetIfCurrent stores the report only if the tenant is still at gen. The
// entry is keyed by gen, so a write racing an invalidation is never read.
func (c *RedisReportCache) SetIfCurrent(ctx context.Context, tenantID uuid.UUID, gen int64, key string, value []byte) (bool, error) {
	current, err := c.Generation(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if current != gen {
		return false, nil
	}
	if err := c.client.Set(ctx, c.entryKey(tenantID, gen, key), value, c.ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to cache report: %w", err)
	}
	return true, nil
}

// InvalidateTenant bumps the tenant generation
func (c *RedisReportCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	if err := c.client.Incr(ctx, c.generationKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate report cache: %w", err)
	}
	return nil
}
