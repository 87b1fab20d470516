/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ytdl wraps the yt-dlp tool for audio acquisition and for the
// related-track feed behind autoplay recommendations.
package ytdl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/acquire"
)

const watchURL = "https://www.youtube.com/watch?v="

// stderr fragments that mean the content itself is gone, not the tool.
var unavailableMarkers = []string{
	"video unavailable",
	"private video",
	"this video is not available",
	"account associated with this video has been terminated",
	"removed by the uploader",
	"blocked it in your country",
}

// stderr fragments that mean the extractor is out of date and a tool
// update is likely to fix the failure.
var staleToolMarkers = []string{
	"signature extraction failed",
	"nsig extraction failed",
	"unable to extract",
	"please report this issue",
	"confirm you're not a bot",
}

// Client runs yt-dlp commands with shared base flags.
type Client struct {
	logger zerolog.Logger
	proxy  string
}

// NewClient creates a yt-dlp client. proxy may be empty.
func NewClient(proxy string, logger zerolog.Logger) *Client {
	return &Client{
		proxy:  proxy,
		logger: logger.With().Str("component", "ytdl").Logger(),
	}
}

func (c *Client) base() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if c.proxy != "" {
		cmd.Proxy(c.proxy)
	}
	return cmd
}

// classify maps a yt-dlp failure onto the coordinator's sentinels so
// unavailable content is never retried and a stale extractor triggers
// a self-heal.
func classify(err error, stderr string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(stderr + " " + err.Error())
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", acquire.ErrContentUnavailable, err)
		}
	}
	for _, marker := range staleToolMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", acquire.ErrToolStale, err)
		}
	}
	return err
}

// Download fetches the best audio stream for a track to destPath.
func (c *Client) Download(ctx context.Context, trackID, destPath string) error {
	c.logger.Debug().Str("track_id", trackID).Str("dest", destPath).Msg("starting yt-dlp download")

	res, err := c.base().
		Format("bestaudio[ext=webm]/bestaudio").
		Output(destPath).
		NoPlaylist().
		NoPart().
		NoCheckFormats().
		Run(ctx, watchURL+trackID)

	var stderr string
	if res != nil {
		stderr = res.Stderr
	}
	return classify(err, stderr)
}

// Heal reinstalls the yt-dlp binary. The acquire coordinator guards
// call frequency; Heal itself always performs the update.
func (c *Client) Heal(ctx context.Context) error {
	c.logger.Info().Msg("updating yt-dlp binary")
	if _, err := ytdlp.Install(ctx, &ytdlp.InstallOptions{}); err != nil {
		return fmt.Errorf("update yt-dlp: %w", err)
	}
	return nil
}

// RelatedTrack is one entry of a related-track feed.
type RelatedTrack struct {
	ID       string
	Title    string
	Uploader string
	Duration int // seconds
}

// RelatedTracks queries the auto-generated mix playlist for a seed
// track and returns up to limit entries, seed excluded.
func (c *Client) RelatedTracks(ctx context.Context, seedID string, limit int) ([]RelatedTrack, error) {
	mixURL := fmt.Sprintf("%s%s&list=RD%s", watchURL, seedID, seedID)

	res, err := c.base().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit+1)).
		Run(ctx, mixURL)

	var stderr string
	if res != nil {
		stderr = res.Stderr
	}
	if err != nil {
		return nil, classify(err, stderr)
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	tracks := make([]RelatedTrack, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		if parts[0] == seedID {
			continue
		}
		duration, _ := strconv.Atoi(strings.TrimSuffix(parts[3], ".0"))
		tracks = append(tracks, RelatedTrack{
			ID:       parts[0],
			Title:    parts[1],
			Uploader: parts[2],
			Duration: duration,
		})
		if len(tracks) == limit {
			break
		}
	}
	return tracks, nil
}
