/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package trackcache maps track IDs to downloaded audio artifacts on
// disk, backed by database rows that survive restarts. A row is only
// trusted if the file it points at still exists; dangling rows are
// reaped on read so the next acquisition re-downloads.
package trackcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/events"
	"github.com/friendsincode/bragi_autodj/internal/models"
	"github.com/friendsincode/bragi_autodj/internal/store"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
)

// EntryStore persists cache entries.
type EntryStore interface {
	CacheEntry(ctx context.Context, trackID string) (*models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, trackID, filePath string, sizeBytes int64) error
	DeleteCacheEntry(ctx context.Context, trackID string) error
}

// Store resolves track IDs to playable files under the media root.
type Store struct {
	entries   EntryStore
	bus       *events.Bus
	logger    zerolog.Logger
	mediaRoot string
}

// New creates a cache store rooted at mediaRoot.
func New(entries EntryStore, bus *events.Bus, mediaRoot string, logger zerolog.Logger) *Store {
	return &Store{
		entries:   entries,
		bus:       bus,
		mediaRoot: mediaRoot,
		logger:    logger.With().Str("component", "trackcache").Logger(),
	}
}

// ArtifactPath returns the canonical on-disk location for a track's
// audio artifact. Paths are sharded on the first characters of the ID
// to keep directory fanout bounded.
func (s *Store) ArtifactPath(trackID string) string {
	shard1, shard2 := "xx", "xx"
	if len(trackID) >= 4 {
		shard1, shard2 = trackID[0:2], trackID[2:4]
	}
	return filepath.Join(s.mediaRoot, shard1, shard2, trackID+".audio")
}

// Get resolves a track to its cached file. It returns ("", false, nil)
// on a miss. A database row whose file is gone or empty counts as a
// miss: the row is deleted so the coordinator re-downloads.
func (s *Store) Get(ctx context.Context, trackID string) (string, bool, error) {
	entry, err := s.entries.CacheEntry(ctx, trackID)
	if errors.Is(err, store.ErrNotFound) {
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load cache entry: %w", err)
	}

	if info, err := os.Stat(entry.FilePath); err != nil || info.Size() == 0 {
		telemetry.CacheHitsTotal.WithLabelValues("dangling").Inc()
		s.logger.Warn().
			Str("track_id", trackID).
			Str("path", entry.FilePath).
			Msg("cache entry points at missing or empty file, reaping")

		if delErr := s.entries.DeleteCacheEntry(ctx, trackID); delErr != nil {
			return "", false, fmt.Errorf("reap dangling cache entry: %w", delErr)
		}
		if s.bus != nil {
			s.bus.Publish(events.EventCacheEntryDangling, events.Payload{
				"track_id": trackID,
				"path":     entry.FilePath,
			})
		}
		return "", false, nil
	}

	telemetry.CacheHitsTotal.WithLabelValues("hit").Inc()
	return entry.FilePath, true, nil
}

// Commit records a finished artifact. The file must already sit at its
// final path; Commit only persists the mapping.
func (s *Store) Commit(ctx context.Context, trackID, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	if err := s.entries.UpsertCacheEntry(ctx, trackID, filePath, info.Size()); err != nil {
		return fmt.Errorf("persist cache entry: %w", err)
	}

	s.logger.Debug().
		Str("track_id", trackID).
		Str("path", filePath).
		Int64("size", info.Size()).
		Msg("cache entry committed")

	if s.bus != nil {
		s.bus.Publish(events.EventCacheEntryCommitted, events.Payload{
			"track_id": trackID,
			"path":     filePath,
			"size":     info.Size(),
		})
	}
	return nil
}

// Evict removes a track's cache row and best-effort deletes the file.
func (s *Store) Evict(ctx context.Context, trackID string) error {
	entry, err := s.entries.CacheEntry(ctx, trackID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cache entry: %w", err)
	}

	if err := s.entries.DeleteCacheEntry(ctx, trackID); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", entry.FilePath).Msg("could not remove evicted artifact")
	}
	return nil
}
