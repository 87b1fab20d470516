/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultTrackTTL          = 1 * time.Hour
	DefaultPopularityTTL     = 5 * time.Minute
	DefaultRecommendationTTL = 10 * time.Minute
	DefaultHistoryTTL        = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyTrack          = "bragi:cache:track:" // + track_id
	KeyPopularity     = "bragi:cache:popularity"
	KeyRecommendation = "bragi:cache:recommendations"
	KeyRecentHistory  = "bragi:cache:recent_history"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	TrackTTL          time.Duration
	PopularityTTL     time.Duration
	RecommendationTTL time.Duration
	HistoryTTL        time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:         "localhost:6379",
		TrackTTL:          DefaultTrackTTL,
		PopularityTTL:     DefaultPopularityTTL,
		RecommendationTTL: DefaultRecommendationTTL,
		HistoryTTL:        DefaultHistoryTTL,
		DisableOnError:    true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Track caching methods

// CachedTrack represents a cached track record.
type CachedTrack struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Duration    int     `json:"duration"`
	ChannelID   string  `json:"channel_id"`
	Status      string  `json:"status"`
	GlobalScore float64 `json:"global_score"`
	PlayCount   int     `json:"play_count"`
}

// GetTrack retrieves a cached track by ID.
func (c *Cache) GetTrack(ctx context.Context, trackID string) (*CachedTrack, bool) {
	var track CachedTrack
	found, err := c.get(ctx, KeyTrack+trackID, &track)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("track_id", trackID).Msg("track cache hit")
	return &track, true
}

// SetTrack caches a track record.
func (c *Cache) SetTrack(ctx context.Context, track *CachedTrack) error {
	c.logger.Debug().Str("track_id", track.ID).Msg("caching track")
	return c.set(ctx, KeyTrack+track.ID, track, c.config.TrackTTL)
}

// InvalidateTrack removes a track from cache.
func (c *Cache) InvalidateTrack(ctx context.Context, trackID string) error {
	c.logger.Debug().Str("track_id", trackID).Msg("invalidating track cache")
	return c.delete(ctx, KeyTrack+trackID)
}

// Popularity caching methods

// CachedPopularity holds a snapshot of the most played tracks, ordered
// by play count descending.
type CachedPopularity struct {
	TrackIDs   []string  `json:"track_ids"`
	PlayCounts []int     `json:"play_counts"`
	TakenAt    time.Time `json:"taken_at"`
}

// GetPopularity retrieves the cached popularity snapshot.
func (c *Cache) GetPopularity(ctx context.Context) (*CachedPopularity, bool) {
	var snapshot CachedPopularity
	found, err := c.get(ctx, KeyPopularity, &snapshot)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(snapshot.TrackIDs)).Msg("popularity snapshot cache hit")
	return &snapshot, true
}

// SetPopularity caches the popularity snapshot.
func (c *Cache) SetPopularity(ctx context.Context, snapshot *CachedPopularity) error {
	c.logger.Debug().Int("count", len(snapshot.TrackIDs)).Msg("caching popularity snapshot")
	return c.set(ctx, KeyPopularity, snapshot, c.config.PopularityTTL)
}

// InvalidatePopularity removes the popularity snapshot from cache.
func (c *Cache) InvalidatePopularity(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating popularity snapshot")
	return c.delete(ctx, KeyPopularity)
}

// Recommendation caching methods

// CachedRecommendations holds the related-track pool built from the
// most recent seed.
type CachedRecommendations struct {
	SeedID   string    `json:"seed_id"`
	TrackIDs []string  `json:"track_ids"`
	TakenAt  time.Time `json:"taken_at"`
}

// GetRecommendations retrieves the cached recommendation pool.
func (c *Cache) GetRecommendations(ctx context.Context) (*CachedRecommendations, bool) {
	var pool CachedRecommendations
	found, err := c.get(ctx, KeyRecommendation, &pool)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("seed_id", pool.SeedID).Int("count", len(pool.TrackIDs)).Msg("recommendation pool cache hit")
	return &pool, true
}

// SetRecommendations caches the recommendation pool.
func (c *Cache) SetRecommendations(ctx context.Context, pool *CachedRecommendations) error {
	c.logger.Debug().Str("seed_id", pool.SeedID).Int("count", len(pool.TrackIDs)).Msg("caching recommendation pool")
	return c.set(ctx, KeyRecommendation, pool, c.config.RecommendationTTL)
}

// History caching methods

// GetRecentHistory retrieves the cached recent-play track IDs.
func (c *Cache) GetRecentHistory(ctx context.Context) ([]string, bool) {
	var ids []string
	found, err := c.get(ctx, KeyRecentHistory, &ids)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(ids)).Msg("recent history cache hit")
	return ids, true
}

// SetRecentHistory caches the recent-play track IDs.
func (c *Cache) SetRecentHistory(ctx context.Context, ids []string) error {
	c.logger.Debug().Int("count", len(ids)).Msg("caching recent history")
	return c.set(ctx, KeyRecentHistory, ids, c.config.HistoryTTL)
}

// InvalidateRecentHistory removes the recent history from cache.
func (c *Cache) InvalidateRecentHistory(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating recent history cache")
	return c.delete(ctx, KeyRecentHistory)
}

// InvalidatePlayback removes caches that go stale when a playback is
// recorded.
func (c *Cache) InvalidatePlayback(ctx context.Context, trackID string) error {
	if err := c.InvalidateTrack(ctx, trackID); err != nil {
		return err
	}
	if err := c.InvalidatePopularity(ctx); err != nil {
		return err
	}
	return c.InvalidateRecentHistory(ctx)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "bragi:cache:*")
}
