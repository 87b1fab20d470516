/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package autoplay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Category names candidate sources.
type Category string

const (
	CategoryPlaylist Category = "playlist"
	CategoryHistory  Category = "history"
	CategoryPopular  Category = "popular"
	CategoryMix      Category = "mix"
	CategoryRandom   Category = "random"
)

// Weights assigns each category its share of the selection draw. A
// category that yields no candidates simply contributes nothing; its
// share is not redistributed.
type Weights struct {
	Playlist float64 `yaml:"playlist"`
	History  float64 `yaml:"history"`
	Popular  float64 `yaml:"popular"`
	Mix      float64 `yaml:"mix"`
	Random   float64 `yaml:"random"`
}

// DefaultWeights returns the stock category split.
func DefaultWeights() Weights {
	return Weights{
		Playlist: 25,
		History:  25,
		Popular:  20,
		Mix:      20,
		Random:   10,
	}
}

// Of returns the weight for a category.
func (w Weights) Of(category Category) float64 {
	switch category {
	case CategoryPlaylist:
		return w.Playlist
	case CategoryHistory:
		return w.History
	case CategoryPopular:
		return w.Popular
	case CategoryMix:
		return w.Mix
	case CategoryRandom:
		return w.Random
	}
	return 0
}

// LoadWeights reads a YAML weight override file. A missing path keeps
// the defaults.
func LoadWeights(path string) (Weights, error) {
	weights := DefaultWeights()
	if path == "" {
		return weights, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return weights, fmt.Errorf("read weight file: %w", err)
	}
	if err := yaml.Unmarshal(data, &weights); err != nil {
		return weights, fmt.Errorf("parse weight file: %w", err)
	}

	for _, w := range []float64{weights.Playlist, weights.History, weights.Popular, weights.Mix, weights.Random} {
		if w < 0 {
			return DefaultWeights(), fmt.Errorf("weight file %s contains a negative weight", path)
		}
	}
	return weights, nil
}
