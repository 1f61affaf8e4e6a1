package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/models"
)

// StatisticsCache caches derived dataset statistics. Entries are keyed by
// dataset and version number: statistics only change when an ingestion
// creates a version, so an entry computed from an older version can never be
// returned for a newer one. Implementations treat every backend failure as a
// miss; the database stays the source of truth.
type StatisticsCache interface {
	Get(ctx context.Context, datasetID int64, versionNumber int) (*models.DatasetStatistics, bool)
	// Set stores stats under stats.DatasetID and stats.VersionNumber.
	Set(ctx context.Context, stats *models.DatasetStatistics)
	// Invalidate drops every cached version of the dataset.
	Invalidate(ctx context.Context, datasetID int64)
}

const statisticsKeyPrefix = "materials:stats:"

type redisStatisticsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStatisticsCache creates a StatisticsCache backed by Redis.
// Each dataset is one hash with a field per version number.
// A nil client yields a no-op cache.
func NewRedisStatisticsCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) StatisticsCache {
	if client == nil {
		return NoopStatisticsCache{}
	}
	return &redisStatisticsCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("stats-cache"),
	}
}

func statisticsKey(datasetID int64) string {
	return fmt.Sprintf("%s%d", statisticsKeyPrefix, datasetID)
}

func statisticsField(versionNumber int) string {
	return "v" + strconv.Itoa(versionNumber)
}

func (c *redisStatisticsCache) Get(ctx context.Context, datasetID int64, versionNumber int) (*models.DatasetStatistics, bool) {
	key, field := statisticsKey(datasetID), statisticsField(versionNumber)
	data, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Statistics cache lookup failed", zap.Int64("dataset_id", datasetID), zap.Error(err))
		return nil, false
	}

	var stats models.DatasetStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		c.logger.Warn("Dropping corrupt statistics cache entry", zap.String("key", key), zap.String("field", field), zap.Error(err))
		c.client.HDel(ctx, key, field)
		return nil, false
	}
	return &stats, true
}

func (c *redisStatisticsCache) Set(ctx context.Context, stats *models.DatasetStatistics) {
	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Warn("Failed to encode statistics", zap.Error(err))
		return
	}
	key := statisticsKey(stats.DatasetID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, statisticsField(stats.VersionNumber), data)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to cache statistics", zap.Int64("dataset_id", stats.DatasetID), zap.Error(err))
	}
}

func (c *redisStatisticsCache) Invalidate(ctx context.Context, datasetID int64) {
	if err := c.client.Del(ctx, statisticsKey(datasetID)).Err(); err != nil {
		c.logger.Warn("Failed to invalidate statistics cache", zap.Int64("dataset_id", datasetID), zap.Error(err))
	}
}

// NoopStatisticsCache never caches. Used when Redis is not configured.
type NoopStatisticsCache struct{}

func (NoopStatisticsCache) Get(context.Context, int64, int) (*models.DatasetStatistics, bool) {
	return nil, false
}

func (NoopStatisticsCache) Set(context.Context, *models.DatasetStatistics) {}

func (NoopStatisticsCache) Invalidate(context.Context, int64) {}
