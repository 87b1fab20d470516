/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/cache"
	"github.com/friendsincode/bragi_autodj/internal/models"
)

// Cached layers the Redis snapshot cache over the hot read paths. All
// writes and uncached reads go straight to the underlying store; when
// Redis is down the wrapper degrades to plain store calls.
type Cached struct {
	store  *Store
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCached wraps a store with the Redis cache.
func NewCached(persistent *Store, redisCache *cache.Cache, logger zerolog.Logger) *Cached {
	return &Cached{
		store:  persistent,
		cache:  redisCache,
		logger: logger.With().Str("component", "cached_store").Logger(),
	}
}

// TopPlayed serves the popularity ranking from the cached snapshot
// when fresh, re-resolving rows by primary key. On a miss it queries
// the store and repopulates the snapshot.
func (c *Cached) TopPlayed(ctx context.Context, limit int) ([]models.Track, error) {
	if snapshot, ok := c.cache.GetPopularity(ctx); ok {
		ids := snapshot.TrackIDs
		if len(ids) > limit {
			ids = ids[:limit]
		}
		tracks, err := c.store.TracksByIDs(ctx, ids)
		if err == nil {
			return tracks, nil
		}
		c.logger.Debug().Err(err).Msg("resolving cached popularity snapshot failed, falling back")
	}

	tracks, err := c.store.TopPlayed(ctx, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(tracks))
	counts := make([]int, len(tracks))
	for i, track := range tracks {
		ids[i] = track.ID
		counts[i] = track.PlayCount
	}
	if err := c.cache.SetPopularity(ctx, &cache.CachedPopularity{
		TrackIDs:   ids,
		PlayCounts: counts,
		TakenAt:    time.Now().UTC(),
	}); err != nil {
		c.logger.Debug().Err(err).Msg("could not cache popularity snapshot")
	}
	return tracks, nil
}

// Track serves single-row lookups through the track cache.
func (c *Cached) Track(ctx context.Context, id string) (*models.Track, error) {
	if cached, ok := c.cache.GetTrack(ctx, id); ok {
		track := &models.Track{
			ID:          cached.ID,
			Title:       cached.Title,
			Duration:    cached.Duration,
			Status:      models.TrackStatus(cached.Status),
			GlobalScore: cached.GlobalScore,
			PlayCount:   cached.PlayCount,
		}
		if cached.ChannelID != "" {
			track.ChannelID = &cached.ChannelID
		}
		return track, nil
	}

	track, err := c.store.Track(ctx, id)
	if err != nil {
		return nil, err
	}

	entry := &cache.CachedTrack{
		ID:          track.ID,
		Title:       track.Title,
		Duration:    track.Duration,
		Status:      string(track.Status),
		GlobalScore: track.GlobalScore,
		PlayCount:   track.PlayCount,
	}
	if track.ChannelID != nil {
		entry.ChannelID = *track.ChannelID
	}
	if err := c.cache.SetTrack(ctx, entry); err != nil {
		c.logger.Debug().Err(err).Str("track_id", id).Msg("could not cache track")
	}
	return track, nil
}
