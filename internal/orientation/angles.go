// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "math"

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

func Rad(deg float64) float64 { return deg * deg2rad }

func Deg(rad float64) float64 { return rad * rad2deg }

// NormalizeHeading maps any angle to [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// Wrap180 maps any angle to [-180, 180).
func Wrap180(deg float64) float64 {
	return deg - 360*math.Floor((deg+180)/360)
}

// AngleDiff returns the shortest signed angle from b to a, in [-180, 180).
func AngleDiff(a, b float64) float64 { return Wrap180(a - b) }

// InterpolateHeading interpolates between two headings along the shortest
// arc. frac is the fraction of the way from a to b.
func InterpolateHeading(a, b, frac float64) float64 {
	return NormalizeHeading(a + frac*AngleDiff(b, a))
}
