/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the gorm-backed persistence layer for the engine. All
// reads used by the eligibility refreshers and candidate sources go through
// this package; nothing else touches the database directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_autodj/internal/models"
)

// ErrNotFound reports a missing row where callers distinguish absence from
// failure.
var ErrNotFound = errors.New("store: not found")

// Playback score adjustments. A completed play nudges the track up, a skip
// pushes it down twice as hard so chronically skipped tracks drop out of the
// random pool (negative score).
const (
	playScoreDelta = 0.25
	skipScoreDelta = -0.5
)

// Store wraps gorm access to engine rows.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store instance.
func New(database *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     database,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// BannedTrackIDs returns ids of tracks carrying a terminal ban.
func (s *Store) BannedTrackIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("status = ?", models.TrackBlocked).
		Pluck("id", &ids).Error
	return ids, err
}

// BlockedChannelIDs returns ids of channels whose tracks are all ineligible.
func (s *Store) BlockedChannelIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("blocked = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}

// ManualPlayIDs returns track ids manually requested since the cutoff.
// Autoplay picks are excluded so the selector never censors itself.
func (s *Store) ManualPlayIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.PlayHistory{}).
		Where("manual = ? AND started_at >= ?", true, since).
		Distinct().
		Pluck("track_id", &ids).Error
	return ids, err
}

// RecentlyPlayed returns tracks ranked most-recent-first, deduplicated,
// capped at limit.
func (s *Store) RecentlyPlayed(ctx context.Context, limit int) ([]models.Track, error) {
	var plays []models.PlayHistory
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit * 4). // overshoot before dedupe
		Find(&plays).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, limit)
	ids := make([]string, 0, limit)
	for _, play := range plays {
		if _, ok := seen[play.TrackID]; ok {
			continue
		}
		seen[play.TrackID] = struct{}{}
		ids = append(ids, play.TrackID)
		if len(ids) == limit {
			break
		}
	}

	return s.tracksInOrder(ctx, ids)
}

// TopPlayed returns the most played tracks, capped at limit.
func (s *Store) TopPlayed(ctx context.Context, limit int) ([]models.Track, error) {
	var tracks []models.Track
	err := s.db.WithContext(ctx).
		Where("play_count > 0 AND status <> ?", models.TrackBlocked).
		Order("play_count DESC").
		Limit(limit).
		Find(&tracks).Error
	return tracks, err
}

// RandomEligible returns up to limit random tracks with a non-negative
// score. Sampling happens in memory to stay dialect independent.
func (s *Store) RandomEligible(ctx context.Context, limit int) ([]models.Track, error) {
	var tracks []models.Track
	err := s.db.WithContext(ctx).
		Where("global_score >= 0 AND status <> ?", models.TrackBlocked).
		Limit(500).
		Find(&tracks).Error
	if err != nil {
		return nil, err
	}

	rand.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

// ActivePlaylist returns the active playlist with entries in position order,
// or ErrNotFound when no playlist is active.
func (s *Store) ActivePlaylist(ctx context.Context) (*models.Playlist, error) {
	var playlist models.Playlist
	err := s.db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("active = ?", true).
		First(&playlist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &playlist, nil
}

// LatestSeed returns the most recent recommendation seed track id, or
// ErrNotFound when no seed has been recorded.
func (s *Store) LatestSeed(ctx context.Context) (string, error) {
	var seed models.RecommendationSeed
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		First(&seed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return seed.TrackID, nil
}

// RecordSeed stores a new recommendation seed.
func (s *Store) RecordSeed(ctx context.Context, trackID string) error {
	return s.db.WithContext(ctx).Create(&models.RecommendationSeed{
		TrackID:   trackID,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// Track loads one track by id.
func (s *Store) Track(ctx context.Context, id string) (*models.Track, error) {
	var track models.Track
	err := s.db.WithContext(ctx).First(&track, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// TracksByIDs loads tracks for the given ids. Order of the result follows
// the input; unknown ids are silently dropped.
func (s *Store) TracksByIDs(ctx context.Context, ids []string) ([]models.Track, error) {
	return s.tracksInOrder(ctx, ids)
}

func (s *Store) tracksInOrder(ctx context.Context, ids []string) ([]models.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var tracks []models.Track
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&tracks).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]models.Track, len(tracks))
	for _, track := range tracks {
		byID[track.ID] = track
	}

	ordered := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		if track, ok := byID[id]; ok {
			ordered = append(ordered, track)
		}
	}
	return ordered, nil
}

// UpcomingQueued returns the track IDs currently marked queued, oldest
// queue entry first. This is the near-future view the prefetcher warms.
func (s *Store) UpcomingQueued(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("status = ?", models.TrackQueued).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load queued tracks: %w", err)
	}
	return ids, nil
}

// UpdateTrackStatus transitions a track's lifecycle status. A blocked track
// never leaves that status through this path; unbanning is an explicit
// moderation action outside the engine.
func (s *Store) UpdateTrackStatus(ctx context.Context, id string, status models.TrackStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("id = ? AND status <> ?", id, models.TrackBlocked).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("update track status: %w", result.Error)
	}
	return nil
}

// RecordPlayback appends a history row and folds the outcome into the
// track's counters and score.
func (s *Store) RecordPlayback(ctx context.Context, trackID string, manual, skipped bool) error {
	now := time.Now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.PlayHistory{
			ID:        uuid.NewString(),
			TrackID:   trackID,
			Manual:    manual,
			Skipped:   skipped,
			StartedAt: now,
		}).Error; err != nil {
			return fmt.Errorf("insert play history: %w", err)
		}

		updates := map[string]any{
			"last_played_at": now,
		}
		if skipped {
			updates["skip_count"] = gorm.Expr("skip_count + 1")
			updates["global_score"] = gorm.Expr("global_score + ?", skipScoreDelta)
		} else {
			updates["play_count"] = gorm.Expr("play_count + 1")
			updates["global_score"] = gorm.Expr("global_score + ?", playScoreDelta)
		}

		if err := tx.Model(&models.Track{}).Where("id = ?", trackID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update track counters: %w", err)
		}
		return nil
	})
}

// CacheEntry loads the artifact mapping for a track, or ErrNotFound.
func (s *Store) CacheEntry(ctx context.Context, trackID string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).First(&entry, "track_id = ?", trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertCacheEntry records a validated artifact mapping, replacing any
// previous mapping for the track.
func (s *Store) UpsertCacheEntry(ctx context.Context, trackID, filePath string, sizeBytes int64) error {
	entry := models.CacheEntry{
		TrackID:   trackID,
		FilePath:  filePath,
		SizeBytes: sizeBytes,
	}
	return s.db.WithContext(ctx).Save(&entry).Error
}

// DeleteCacheEntry removes a mapping, typically after the backing file
// vanished.
func (s *Store) DeleteCacheEntry(ctx context.Context, trackID string) error {
	return s.db.WithContext(ctx).Delete(&models.CacheEntry{}, "track_id = ?", trackID).Error
}
