/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ytdl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Probe validates downloaded artifacts with ffprobe before they are
// committed to the cache. An empty file or a stream ffprobe cannot
// time is rejected.
type Probe struct {
	logger zerolog.Logger
	binary string
}

// NewProbe creates a validator using the ffprobe binary on PATH.
func NewProbe(logger zerolog.Logger) *Probe {
	return &Probe{
		binary: "ffprobe",
		logger: logger.With().Str("component", "probe").Logger(),
	}
}

// Validate checks that the file exists, is non-empty, and decodes to a
// positive duration.
func (p *Probe) Validate(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}

	out, err := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return fmt.Errorf("probe %s: unparseable duration %q", path, strings.TrimSpace(string(out)))
	}
	if duration <= 0 {
		return fmt.Errorf("probe %s: non-positive duration %f", path, duration)
	}

	p.logger.Debug().Str("path", path).Float64("duration", duration).Msg("artifact validated")
	return nil
}
