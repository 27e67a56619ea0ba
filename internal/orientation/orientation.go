// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"encoding/json"
	"strings"
	"time"
)

// Attitude is the canonical orientation of the ship, in degrees.
//
// Heading is clockwise from North in [0, 360). Pitch is positive bow up.
// Roll is positive port side up.
type Attitude struct {
	Heading float64 `json:"heading"`
	Pitch   float64 `json:"pitch"`
	Roll    float64 `json:"roll"`
}

// Flags marks degenerate or low-quality fits. A flagged sample is kept in
// the series; consumers decide whether to use it.
type Flags uint8

const (
	// FlagHighResidual: the RMS fit residual is above the configured ceiling.
	FlagHighResidual Flags = 1 << iota
	// FlagGimbalLock: pitch is at ±90°, roll forced to 0.
	FlagGimbalLock
	// FlagIllConditioned: the antenna cloud is close to a line.
	FlagIllConditioned
	// FlagConstrained: only two antennas, the vertical axis was assumed.
	FlagConstrained
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagHighResidual, "high_residual"},
	{FlagGimbalLock, "gimbal_lock"},
	{FlagIllConditioned, "ill_conditioned"},
	{FlagConstrained, "constrained"},
}

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// Names returns the names of the set flags.
func (fl Flags) Names() []string {
	names := []string{}
	for _, n := range flagNames {
		if fl.Has(n.f) {
			names = append(names, n.name)
		}
	}
	return names
}

func (fl Flags) String() string {
	if fl == 0 {
		return "ok"
	}
	return strings.Join(fl.Names(), "|")
}

func (fl Flags) MarshalJSON() ([]byte, error) { return json.Marshal(fl.Names()) }

func (fl *Flags) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	*fl = 0
	for _, name := range names {
		for _, n := range flagNames {
			if n.name == name {
				*fl |= n.f
			}
		}
	}
	return nil
}

// AttitudeSample is one solved epoch.
type AttitudeSample struct {
	Time time.Time `json:"time"`
	Attitude
	Residual float64 `json:"residual"` // RMS of post-fit antenna distances, meters
	Flags    Flags   `json:"flags"`
}

// Source is anything that can provide attitudes over time.
type Source interface {
	Next() (AttitudeSample, error)
}
