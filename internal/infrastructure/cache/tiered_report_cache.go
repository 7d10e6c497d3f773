package cache

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TieredReportCache reads through a local L1 and a shared Redis L2.
// Invalidations are applied to both tiers and broadcast so other instances
// drop their L1 copies.
type TieredReportCache struct {
	l1          *InMemoryReportCache
	l2          *RedisReportCache
	invalidator *ReportCacheInvalidator
	logger      *zap.Logger

	l2Hits   atomic.Int64
	l2Misses atomic.Int64
}

// NewTieredReportCache creates a tiered cache. invalidator may be nil.
func NewTieredReportCache(l1 *InMemoryReportCache, l2 *RedisReportCache, invalidator *ReportCacheInvalidator, logger *zap.Logger) *TieredReportCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredReportCache{
		l1:          l1,
		l2:          l2,
		invalidator: invalidator,
		logger:      logger,
	}
}

// StartInvalidationSubscription listens for remote invalidations; it blocks
func (c *TieredReportCache) StartInvalidationSubscription(ctx context.Context) error {
	if c.invalidator == nil {
		return nil
	}
	return c.invalidator.Subscribe(ctx, func(tenantID uuid.UUID) {
		_ = c.l1.InvalidateTenant(context.Background(), tenantID)
		c.logger.Debug("Dropped local reports after remote invalidation",
			zap.String("tenant_id", tenantID.String()))
	})
}

// Get tries L1, then L2, populating L1 on an L2 hit. L2 errors degrade to a miss.
func (c *TieredReportCache) Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error) {
	if data, ok, _ := c.l1.Get(ctx, tenantID, key); ok {
		return data, true, nil
	}

	l1Gen, _ := c.l1.Generation(ctx, tenantID)
	data, ok, err := c.l2.Get(ctx, tenantID, key)
	if err != nil {
		c.logger.Warn("L2 report cache error", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		c.l2Misses.Add(1)
		return nil, false, nil
	}
	c.l2Hits.Add(1)
	_, _ = c.l1.SetIfCurrent(ctx, tenantID, l1Gen, key, data)
	return data, true, nil
}

// Set writes both tiers
func (c *TieredReportCache) Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte) error {
	_ = c.l1.Set(ctx, tenantID, key, value)
	if err := c.l2.Set(ctx, tenantID, key, value); err != nil {
		c.logger.Warn("Failed to write L2 report cache", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Generation returns the shared L2 generation
func (c *TieredReportCache) Generation(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return c.l2.Generation(ctx, tenantID)
}

// SetIfCurrent writes L2 if it is still at gen, then L1 if no invalidation
// reached this instance meanwhile. L1 is snapshotted before L2 is checked
// and InvalidateTenant bumps L2 before L1.
func (c *TieredReportCache) SetIfCurrent(ctx context.Context, tenantID uuid.UUID, gen int64, key string, value []byte) (bool, error) {
	l1Gen, _ := c.l1.Generation(ctx, tenantID)
	stored, err := c.l2.SetIfCurrent(ctx, tenantID, gen, key, value)
	if err != nil {
		c.logger.Warn("Failed to write L2 report cache", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	if !stored {
		return false, nil
	}
	return c.l1.SetIfCurrent(ctx, tenantID, l1Gen, key, value)
}

// InvalidateTenant clears both tiers and notifies other instances
func (c *TieredReportCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	err := c.l2.InvalidateTenant(ctx, tenantID)
	_ = c.l1.InvalidateTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if c.invalidator != nil {
		if err := c.invalidator.Publish(ctx, tenantID); err != nil {
			c.logger.Warn("Failed to broadcast report invalidation", zap.Error(err))
		}
	}
	return nil
}

// Stats counts hits on either tier and misses on both
func (c *TieredReportCache) Stats() ReportCacheStats {
	s := c.l1.Stats()
	s.Hits += c.l2Hits.Load()
	s.Misses = c.l2Misses.Load()
	return s
}

// Close stops the invalidation subscription
func (c *TieredReportCache) Close() error {
	if c.invalidator != nil {
		return c.invalidator.Close()
	}
	return nil
}
