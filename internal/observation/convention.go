// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package observation

import (
	"fmt"
	"math"
	"strings"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

// Convention describes how a sensor signs its angles relative to the ship
// convention (heading clockwise from North, bow up and port up positive).
// Each sign is +1 or -1.
type Convention struct {
	HeadingSign float64
	PitchSign   float64
	RollSign    float64
}

// Native is the ship convention itself.
var Native = Convention{HeadingSign: 1, PitchSign: 1, RollSign: 1}

// ParseConvention reads three signs such as "+,-,+" in heading, pitch, roll
// order.
func ParseConvention(s string) (Convention, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Convention{}, fmt.Errorf("convention %q: expected 3 signs", s)
	}
	var signs [3]float64
	for i, p := range parts {
		switch strings.TrimSpace(p) {
		case "+", "+1", "1":
			signs[i] = 1
		case "-", "-1":
			signs[i] = -1
		default:
			return Convention{}, fmt.Errorf("convention %q: bad sign %q", s, p)
		}
	}
	return Convention{HeadingSign: signs[0], PitchSign: signs[1], RollSign: signs[2]}, nil
}

func (c Convention) String() string {
	sign := func(v float64) string {
		if v < 0 {
			return "-"
		}
		return "+"
	}
	return sign(c.HeadingSign) + "," + sign(c.PitchSign) + "," + sign(c.RollSign)
}

// Normalize converts a raw sensor value to the ship convention and range:
// heading in [0, 360), pitch clamped to [-90, 90], roll in [-180, 180).
func (c Convention) Normalize(axis Axis, v float64) float64 {
	switch axis {
	case Heading:
		return orientation.NormalizeHeading(c.HeadingSign * v)
	case Pitch:
		return math.Max(-90, math.Min(90, c.PitchSign*v))
	case Roll:
		return orientation.Wrap180(c.RollSign * v)
	}
	return v
}

// Apply returns a copy of obs converted to the ship convention.
func (c Convention) Apply(obs []Observation) []Observation {
	out := make([]Observation, len(obs))
	for i, o := range obs {
		o.Value = c.Normalize(o.Axis, o.Value)
		out[i] = o
	}
	return out
}
