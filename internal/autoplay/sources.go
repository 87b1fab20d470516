/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package autoplay

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/models"
	"github.com/friendsincode/bragi_autodj/internal/recommend"
	"github.com/friendsincode/bragi_autodj/internal/store"
)

// Candidate is one weighted selection option.
type Candidate struct {
	TrackID   string
	Title     string
	ChannelID *string
	Weight    float64
	Category  Category
}

// Source yields weighted candidates for one category. The weights of
// all candidates from one source sum to at most the category weight.
type Source interface {
	Category() Category
	Candidates(ctx context.Context) ([]Candidate, error)
}

// advancer is implemented by sources with positional state that moves
// when their candidate wins the draw.
type advancer interface {
	Advance(trackID string)
}

// historyDecayStep is the per-rank weight reduction for recent plays.
const historyDecayStep = 0.05

// PlaylistStore loads the active playlist.
type PlaylistStore interface {
	ActivePlaylist(ctx context.Context) (*models.Playlist, error)
}

// PlaylistSource draws from the active playlist. In linear mode only
// the track at the cursor is offered and the cursor advances when it
// wins; in pool mode every entry is offered at equal weight.
type PlaylistSource struct {
	store  PlaylistStore
	logger zerolog.Logger
	weight func() float64

	mu     sync.Mutex
	cursor int
}

// NewPlaylistSource creates the playlist source. weight is read at
// query time so overrides apply without rebuilding sources.
func NewPlaylistSource(playlistStore PlaylistStore, weight func() float64, logger zerolog.Logger) *PlaylistSource {
	return &PlaylistSource{
		store:  playlistStore,
		weight: weight,
		logger: logger.With().Str("source", "playlist").Logger(),
	}
}

func (s *PlaylistSource) Category() Category { return CategoryPlaylist }

func (s *PlaylistSource) Candidates(ctx context.Context) ([]Candidate, error) {
	playlist, err := s.store.ActivePlaylist(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(playlist.Entries) == 0 {
		return nil, nil
	}

	cw := s.weight()
	if playlist.Mode == models.PlaylistLinear {
		s.mu.Lock()
		cursor := s.cursor % len(playlist.Entries)
		s.mu.Unlock()

		entry := playlist.Entries[cursor]
		return []Candidate{{
			TrackID:  entry.TrackID,
			Weight:   cw,
			Category: CategoryPlaylist,
		}}, nil
	}

	per := cw / float64(len(playlist.Entries))
	candidates := make([]Candidate, 0, len(playlist.Entries))
	for _, entry := range playlist.Entries {
		candidates = append(candidates, Candidate{
			TrackID:  entry.TrackID,
			Weight:   per,
			Category: CategoryPlaylist,
		})
	}
	return candidates, nil
}

// Advance moves the linear cursor past a winning track, wrapping at
// the end of the playlist.
func (s *PlaylistSource) Advance(string) {
	s.mu.Lock()
	s.cursor++
	s.mu.Unlock()
}

// Reload resets the cursor, for when the active playlist changes.
func (s *PlaylistSource) Reload() {
	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()
}

// HistoryStore loads recent plays, most recent first.
type HistoryStore interface {
	RecentlyPlayed(ctx context.Context, limit int) ([]models.Track, error)
}

// HistorySource re-offers recently played tracks with weight decaying
// by recency rank, so the last played track is the most likely repeat.
type HistorySource struct {
	store  HistoryStore
	weight func() float64
	limit  int
}

// NewHistorySource creates the history source.
func NewHistorySource(historyStore HistoryStore, weight func() float64, limit int) *HistorySource {
	return &HistorySource{store: historyStore, weight: weight, limit: limit}
}

func (s *HistorySource) Category() Category { return CategoryHistory }

func (s *HistorySource) Candidates(ctx context.Context) ([]Candidate, error) {
	tracks, err := s.store.RecentlyPlayed(ctx, s.limit)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, nil
	}

	per := s.weight() / float64(len(tracks))
	candidates := make([]Candidate, 0, len(tracks))
	for i, track := range tracks {
		weight := per * (1 - historyDecayStep*float64(i))
		if weight < 0 {
			weight = 0
		}
		candidates = append(candidates, Candidate{
			TrackID:   track.ID,
			Title:     track.Title,
			ChannelID: track.ChannelID,
			Weight:    weight,
			Category:  CategoryHistory,
		})
	}
	return candidates, nil
}

// PopularStore loads the most played tracks.
type PopularStore interface {
	TopPlayed(ctx context.Context, limit int) ([]models.Track, error)
}

// PopularSource boosts frequently played tracks logarithmically, so a
// runaway favorite cannot drown out the rest of the category.
type PopularSource struct {
	store  PopularStore
	weight func() float64
	limit  int
}

// NewPopularSource creates the popular source.
func NewPopularSource(popularStore PopularStore, weight func() float64, limit int) *PopularSource {
	return &PopularSource{store: popularStore, weight: weight, limit: limit}
}

func (s *PopularSource) Category() Category { return CategoryPopular }

func (s *PopularSource) Candidates(ctx context.Context) ([]Candidate, error) {
	tracks, err := s.store.TopPlayed(ctx, s.limit)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, nil
	}

	per := s.weight() / float64(len(tracks))
	candidates := make([]Candidate, 0, len(tracks))
	for _, track := range tracks {
		multiplier := 1.0
		if track.PlayCount > 0 {
			multiplier = 1 + math.Log(float64(track.PlayCount))
		}
		candidates = append(candidates, Candidate{
			TrackID:   track.ID,
			Title:     track.Title,
			ChannelID: track.ChannelID,
			Weight:    per * multiplier,
			Category:  CategoryPopular,
		})
	}
	return candidates, nil
}

// MixSource offers the recommendation pool at uniform weight.
type MixSource struct {
	pool   *recommend.Pool
	weight func() float64
}

// NewMixSource creates the mix source over a recommendation pool.
func NewMixSource(pool *recommend.Pool, weight func() float64) *MixSource {
	return &MixSource{pool: pool, weight: weight}
}

func (s *MixSource) Category() Category { return CategoryMix }

func (s *MixSource) Candidates(context.Context) ([]Candidate, error) {
	tracks := s.pool.Snapshot()
	if len(tracks) == 0 {
		return nil, nil
	}

	per := s.weight() / float64(len(tracks))
	candidates := make([]Candidate, 0, len(tracks))
	for _, track := range tracks {
		candidates = append(candidates, Candidate{
			TrackID:  track.ID,
			Title:    track.Title,
			Weight:   per,
			Category: CategoryMix,
		})
	}
	return candidates, nil
}

// RandomStore samples eligible tracks.
type RandomStore interface {
	RandomEligible(ctx context.Context, limit int) ([]models.Track, error)
}

// RandomSource offers a uniform sample of the library. Tracks with a
// negative global score never enter the sample.
type RandomSource struct {
	store  RandomStore
	weight func() float64
	limit  int
}

// NewRandomSource creates the random source.
func NewRandomSource(randomStore RandomStore, weight func() float64, limit int) *RandomSource {
	return &RandomSource{store: randomStore, weight: weight, limit: limit}
}

func (s *RandomSource) Category() Category { return CategoryRandom }

func (s *RandomSource) Candidates(ctx context.Context) ([]Candidate, error) {
	tracks, err := s.store.RandomEligible(ctx, s.limit)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, nil
	}

	per := s.weight() / float64(len(tracks))
	candidates := make([]Candidate, 0, len(tracks))
	for _, track := range tracks {
		candidates = append(candidates, Candidate{
			TrackID:   track.ID,
			Title:     track.Title,
			ChannelID: track.ChannelID,
			Weight:    per,
			Category:  CategoryRandom,
		})
	}
	return candidates, nil
}
