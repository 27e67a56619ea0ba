// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gnss

import (
	"fmt"
	"math"
)

// Default filter thresholds.
const (
	DefaultMaxStdDev = 0.10 // meters
)

// DefaultAccepted is the default set of accepted solution types.
var DefaultAccepted = []Quality{QualityFix, QualityFloat}

// FilterConfig selects which samples survive the quality filter.
type FilterConfig struct {
	MaxStdDev float64   // maximum 3-D standard deviation in meters
	Accepted  []Quality // accepted solution types
}

// DefaultFilterConfig returns the default thresholds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxStdDev: DefaultMaxStdDev,
		Accepted:  append([]Quality(nil), DefaultAccepted...),
	}
}

// Validate checks that the configuration can be applied.
func (c FilterConfig) Validate() error {
	if !(c.MaxStdDev > 0) || math.IsInf(c.MaxStdDev, 0) {
		return fmt.Errorf("filter: max stddev must be a positive number, got %v", c.MaxStdDev)
	}
	if len(c.Accepted) == 0 {
		return fmt.Errorf("filter: accepted quality set is empty")
	}
	return nil
}

// FilterStats counts what the filter did with its input.
type FilterStats struct {
	Input           int             `json:"input"`
	Kept            int             `json:"kept"`
	RejectedQuality int             `json:"rejected_quality"`
	RejectedStdDev  int             `json:"rejected_stddev"`
	ByQuality       map[Quality]int `json:"by_quality"`
}

// Filter keeps the samples whose quality is accepted and whose 3-D standard
// deviation does not exceed the threshold. Order is preserved. A sample with
// a non-finite position or standard deviation counts as a stddev rejection.
func Filter(samples []PositionSample, cfg FilterConfig) ([]PositionSample, FilterStats) {
	accepted := make(map[Quality]bool, len(cfg.Accepted))
	for _, q := range cfg.Accepted {
		accepted[q] = true
	}

	stats := FilterStats{Input: len(samples), ByQuality: make(map[Quality]int)}
	out := make([]PositionSample, 0, len(samples))
	for _, s := range samples {
		stats.ByQuality[s.Quality]++
		if !accepted[s.Quality] {
			stats.RejectedQuality++
			continue
		}
		if math.IsNaN(s.StdDev3D) || s.StdDev3D > cfg.MaxStdDev || !s.ENH.IsFinite() {
			stats.RejectedStdDev++
			continue
		}
		out = append(out, s)
	}
	stats.Kept = len(out)
	return out, stats
}
