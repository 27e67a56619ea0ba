// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bias models the attitude error a perfectly aligned plane or
// baseline instrument would show once the ship tilts: the projection of the
// tilted antenna plane onto Earth axes.
package bias

import (
	"fmt"
	"math"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

// Sample is the theoretical bias at one epoch, in degrees.
type Sample struct {
	Time    time.Time `json:"time"`
	Heading float64   `json:"heading"`
	Pitch   float64   `json:"pitch"`
	Roll    float64   `json:"roll"`
}

// Static describes how the antenna plane sits on a level ship.
type Static struct {
	Pitch   float64 `json:"pitch"`   // plane tilt about the athwartship axis
	Roll    float64 `json:"roll"`    // plane tilt about the fore-aft axis
	Azimuth float64 `json:"azimuth"` // heading baseline azimuth from the bow, [-180, 180)
}

// Model holds the precomputed plane normal and heading baseline of one
// antenna geometry.
type Model struct {
	normal   geometry.Vec3
	baseline geometry.Vec3
	flat     orientation.Attitude
}

func NewModel(g *geometry.Geometry) (*Model, error) {
	if g == nil {
		return nil, fmt.Errorf("bias: nil geometry")
	}
	m := &Model{
		normal:   g.PlaneNormal(),
		baseline: g.HeadingBaseline(),
	}
	m.flat = m.measure(m.normal, m.baseline)
	return m, nil
}

// measure reads heading, pitch and roll off a plane normal and a baseline
// the way a plane/baseline instrument does. Heading is the baseline azimuth.
func (m *Model) measure(n, b geometry.Vec3) orientation.Attitude {
	return orientation.Attitude{
		Heading: orientation.Deg(math.Atan2(b.X, b.Y)),
		Pitch:   orientation.Deg(math.Atan2(-n.Y, n.Z)),
		Roll:    orientation.Deg(math.Atan2(n.X, n.Z)),
	}
}

// tilt applies Rx(pitch)·Ry(roll) to v. Heading does not enter the bias.
func tilt(v geometry.Vec3, sp, cp, sr, cr float64) geometry.Vec3 {
	x := cr*v.X + sr*v.Z
	y := v.Y
	z := -sr*v.X + cr*v.Z
	return geometry.Vec3{X: x, Y: cp*y - sp*z, Z: sp*y + cp*z}
}

// At returns the bias for a ship at the given pitch and roll, in degrees.
// It is exactly zero on a level ship.
func (m *Model) At(pitch, roll float64) orientation.Attitude {
	sp, cp := math.Sincos(orientation.Rad(pitch))
	sr, cr := math.Sincos(orientation.Rad(roll))

	got := m.measure(tilt(m.normal, sp, cp, sr, cr), tilt(m.baseline, sp, cp, sr, cr))
	return orientation.Attitude{
		Heading: orientation.Wrap180(got.Heading - m.flat.Heading),
		Pitch:   orientation.Wrap180(got.Pitch-m.flat.Pitch) - pitch,
		Roll:    orientation.Wrap180(got.Roll-m.flat.Roll) - roll,
	}
}

// Series evaluates the model at every attitude sample.
func (m *Model) Series(samples []orientation.AttitudeSample) []Sample {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		b := m.At(s.Pitch, s.Roll)
		out[i] = Sample{Time: s.Time, Heading: b.Heading, Pitch: b.Pitch, Roll: b.Roll}
	}
	return out
}

// Static returns the tilt of the antenna plane relative to the deck and the
// azimuth of the heading baseline.
func (m *Model) Static() Static {
	return Static{
		Pitch:   m.flat.Pitch,
		Roll:    m.flat.Roll,
		Azimuth: orientation.Wrap180(m.flat.Heading),
	}
}
