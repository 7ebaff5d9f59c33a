package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/redis"
)

// DefaultStatsTTL bounds how stale health-check counts may be
const DefaultStatsTTL = 30 * time.Second

// StatsCache keeps per-round sheet stats in Redis so repeated health checks
// do not read every worksheet
type StatsCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatsCache creates a new stats cache
func NewStatsCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *StatsCache {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	return &StatsCache{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// GetSheetStats returns cached stats for round, calling fallback on a miss.
// Cache errors are logged and never fail the read.
func (c *StatsCache) GetSheetStats(ctx context.Context, round string, fallback func(ctx context.Context, round string) (domain.SheetStats, error)) (domain.SheetStats, error) {
	cacheKey := c.redis.KeyBuilder.KeySheetStats(round)

	cachedData, err := c.redis.Get(ctx, cacheKey)
	if err == nil && cachedData != "" {
		var stats domain.SheetStats
		if marshalErr := json.Unmarshal([]byte(cachedData), &stats); marshalErr == nil {
			c.logger.Debug("Stats cache hit", zap.String("round", round))
			return stats, nil
		} else {
			c.logger.Warn("Stats cache corrupted, reading sheet",
				zap.String("round", round),
				zap.Error(marshalErr))
		}
	} else if err != nil && err != redis.Nil {
		c.logger.Warn("Stats cache error, reading sheet",
			zap.String("round", round),
			zap.Error(err))
	}

	stats, err := fallback(ctx, round)
	if err != nil {
		return domain.SheetStats{}, fmt.Errorf("stats fallback failed: %w", err)
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to marshal stats for caching", zap.String("round", round), zap.Error(err))
		return stats, nil
	}
	if err := c.redis.Set(ctx, cacheKey, string(data), c.ttl); err != nil {
		c.logger.Warn("Failed to cache stats", zap.String("round", round), zap.Error(err))
	}
	return stats, nil
}

// Invalidate drops the cached stats of round after a new submission
func (c *StatsCache) Invalidate(ctx context.Context, round string) {
	if err := c.redis.Delete(ctx, c.redis.KeyBuilder.KeySheetStats(round)); err != nil {
		c.logger.Warn("Failed to invalidate stats cache", zap.String("round", round), zap.Error(err))
	}
}
