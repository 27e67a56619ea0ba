// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package observation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Axis tags which attitude angle a value belongs to.
type Axis string

const (
	Heading Axis = "heading"
	Pitch   Axis = "pitch"
	Roll    Axis = "roll"
)

// Axes lists every axis in report order.
var Axes = []Axis{Heading, Pitch, Roll}

func ParseAxis(s string) (Axis, error) {
	switch a := Axis(strings.ToLower(strings.TrimSpace(s))); a {
	case Heading, Pitch, Roll:
		return a, nil
	case "yaw", "hdg":
		return Heading, nil
	}
	return "", fmt.Errorf("unknown axis %q", s)
}

// Circular reports whether values on this axis wrap at 360°.
func (a Axis) Circular() bool { return a == Heading }

// Observation is one reading of one attitude angle by an external sensor.
type Observation struct {
	Time   time.Time `json:"time"`
	Value  float64   `json:"value"` // degrees
	Axis   Axis      `json:"axis"`
	Source string    `json:"source"`
}

// Split groups observations per axis. Each group is sorted by time; the
// sort is stable so equal timestamps keep their input order.
func Split(obs []Observation) map[Axis][]Observation {
	out := make(map[Axis][]Observation)
	for _, o := range obs {
		out[o.Axis] = append(out[o.Axis], o)
	}
	for _, s := range out {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	}
	return out
}
