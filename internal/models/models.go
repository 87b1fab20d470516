/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// TrackStatus tracks a track through its playback lifecycle.
type TrackStatus string

const (
	TrackStandby     TrackStatus = "standby"
	TrackQueued      TrackStatus = "queued"
	TrackDownloading TrackStatus = "downloading"
	TrackReady       TrackStatus = "ready"
	TrackPlaying     TrackStatus = "playing"
	TrackBlocked     TrackStatus = "blocked"
)

// Track is an audio item identified by its stable external id.
type Track struct {
	ID           string      `gorm:"primaryKey"`
	Title        string      `gorm:"index"`
	Duration     int         // seconds
	ChannelID    *string     `gorm:"index"`
	Status       TrackStatus `gorm:"type:varchar(16);index"`
	GlobalScore  float64
	PlayCount    int
	SkipCount    int
	LastPlayedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Blocked reports whether the track itself carries a terminal ban.
func (t Track) Blocked() bool {
	return t.Status == TrackBlocked
}

// Channel is an upstream publisher of tracks. Blocking a channel blocks
// every track that references it.
type Channel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Blocked   bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CacheEntry maps a track id to its on-disk audio artifact. The row alone is
// not proof of a usable artifact; the file must exist and be non-empty.
type CacheEntry struct {
	TrackID   string `gorm:"primaryKey"`
	FilePath  string
	SizeBytes int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistMode selects how a playlist yields tracks.
type PlaylistMode string

const (
	PlaylistLinear PlaylistMode = "linear"
	PlaylistPool   PlaylistMode = "pool"
)

// Playlist is a curated ordered set of tracks.
type Playlist struct {
	ID        string          `gorm:"primaryKey"`
	Name      string          `gorm:"index"`
	Mode      PlaylistMode    `gorm:"type:varchar(8)"`
	Active    bool            `gorm:"index"`
	Entries   []PlaylistEntry `gorm:"foreignKey:PlaylistID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistEntry orders one track within a playlist.
type PlaylistEntry struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PlaylistID string `gorm:"index"`
	TrackID    string `gorm:"index"`
	Position   int    `gorm:"index"`
}

// PlayHistory records one completed or skipped playback.
type PlayHistory struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TrackID   string `gorm:"index"`
	Manual    bool   `gorm:"index"`
	Skipped   bool
	StartedAt time.Time `gorm:"index"`
}

// RecommendationSeed marks a track whose related-mix feed should seed the
// external recommendation pool.
type RecommendationSeed struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	TrackID   string    `gorm:"index"`
	CreatedAt time.Time `gorm:"index"`
}
