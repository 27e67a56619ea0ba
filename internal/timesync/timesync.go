// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package timesync aligns the computed attitude series with sensor
// observations on common timestamps.
package timesync

import (
	"fmt"
	"strings"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

// DefaultMaxGap is the widest bracket that may be interpolated across.
const DefaultMaxGap = 3 * time.Second

// Target selects which series provides the pair timestamps. The other
// series is interpolated onto them.
type Target int

const (
	// TargetAuto uses the series with more samples in the overlap window.
	TargetAuto Target = iota
	TargetComputed
	TargetObserved
)

func (t Target) String() string {
	switch t {
	case TargetComputed:
		return "computed"
	case TargetObserved:
		return "observed"
	}
	return "auto"
}

func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return TargetAuto, nil
	case "computed", "gnss":
		return TargetComputed, nil
	case "observed", "sensor":
		return TargetObserved, nil
	}
	return TargetAuto, fmt.Errorf("unknown sync target %q", s)
}

type Config struct {
	MaxGap time.Duration
	Target Target
}

func DefaultConfig() Config { return Config{MaxGap: DefaultMaxGap} }

func (c Config) Validate() error {
	if c.MaxGap <= 0 {
		return fmt.Errorf("timesync: max gap must be positive, got %s", c.MaxGap)
	}
	if c.Target < TargetAuto || c.Target > TargetObserved {
		return fmt.Errorf("timesync: invalid target %d", c.Target)
	}
	return nil
}

// Pair is a computed and an observed value at the same instant.
type Pair struct {
	Time     time.Time        `json:"time"`
	Computed float64          `json:"computed"`
	Observed float64          `json:"observed"`
	Axis     observation.Axis `json:"axis"`
}

// Stats counts how the target samples were used.
type Stats struct {
	Target         string `json:"target"`
	Targets        int    `json:"targets"`
	Paired         int    `json:"paired"`
	OutsideOverlap int    `json:"outside_overlap"`
	RejectedGap    int    `json:"rejected_gap"`
}

type point struct {
	t time.Time
	v float64
}

// Synchronize pairs the attitude series with the observations of one axis.
// Both inputs must be sorted by time; observations of other axes are
// ignored. Only the window where both series overlap is used. A target
// sample is rejected when the bracketing samples of the other series are
// more than MaxGap apart, or when it is more than MaxGap away from both of
// its own neighbours. Headings are interpolated along the shortest arc.
func Synchronize(att []orientation.AttitudeSample, obs []observation.Observation, axis observation.Axis, cfg Config) ([]Pair, Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, Stats{}, err
	}

	computed := make([]point, len(att))
	for i, a := range att {
		computed[i] = point{a.Time, axisValue(a.Attitude, axis)}
	}
	observed := make([]point, 0, len(obs))
	for _, o := range obs {
		if o.Axis == axis {
			observed = append(observed, point{o.Time, o.Value})
		}
	}
	if err := checkSorted(computed); err != nil {
		return nil, Stats{}, fmt.Errorf("timesync: attitude series: %w", err)
	}
	if err := checkSorted(observed); err != nil {
		return nil, Stats{}, fmt.Errorf("timesync: %s observations: %w", axis, err)
	}

	target := cfg.Target
	if len(computed) == 0 || len(observed) == 0 {
		if target == TargetAuto {
			target = TargetComputed
		}
		return nil, Stats{Target: target.String()}, nil
	}

	lo, hi := computed[0].t, computed[len(computed)-1].t
	if observed[0].t.After(lo) {
		lo = observed[0].t
	}
	if observed[len(observed)-1].t.Before(hi) {
		hi = observed[len(observed)-1].t
	}

	if target == TargetAuto {
		target = TargetComputed
		if countIn(observed, lo, hi) > countIn(computed, lo, hi) {
			target = TargetObserved
		}
	}

	dst, src := computed, observed
	if target == TargetObserved {
		dst, src = observed, computed
	}

	stats := Stats{Target: target.String(), Targets: len(dst)}
	if hi.Before(lo) {
		stats.OutsideOverlap = len(dst)
		return nil, stats, nil
	}

	circular := axis.Circular()
	var pairs []Pair
	j := 0
	for i, p := range dst {
		if p.t.Before(lo) || p.t.After(hi) {
			stats.OutsideOverlap++
			continue
		}
		if isolated(dst, i, cfg.MaxGap) {
			stats.RejectedGap++
			continue
		}

		for j+1 < len(src) && !src[j+1].t.After(p.t) {
			j++
		}

		var v float64
		if src[j].t.Equal(p.t) {
			v = src[j].v
		} else {
			a, b := src[j], src[j+1]
			gap := b.t.Sub(a.t)
			if gap > cfg.MaxGap {
				stats.RejectedGap++
				continue
			}
			frac := float64(p.t.Sub(a.t)) / float64(gap)
			if circular {
				v = orientation.InterpolateHeading(a.v, b.v, frac)
			} else {
				v = a.v + frac*(b.v-a.v)
			}
		}

		pair := Pair{Time: p.t, Computed: p.v, Observed: v, Axis: axis}
		if target == TargetObserved {
			pair.Computed, pair.Observed = v, p.v
		}
		pairs = append(pairs, pair)
	}
	stats.Paired = len(pairs)
	return pairs, stats, nil
}

func axisValue(a orientation.Attitude, axis observation.Axis) float64 {
	switch axis {
	case observation.Pitch:
		return a.Pitch
	case observation.Roll:
		return a.Roll
	}
	return a.Heading
}

// isolated reports whether s[i] is further than maxGap from both of its
// neighbours. A series of one sample is never isolated.
func isolated(s []point, i int, maxGap time.Duration) bool {
	if len(s) < 2 {
		return false
	}
	if i > 0 && s[i].t.Sub(s[i-1].t) <= maxGap {
		return false
	}
	if i+1 < len(s) && s[i+1].t.Sub(s[i].t) <= maxGap {
		return false
	}
	return true
}

func countIn(s []point, lo, hi time.Time) int {
	n := 0
	for _, p := range s {
		if !p.t.Before(lo) && !p.t.After(hi) {
			n++
		}
	}
	return n
}

func checkSorted(s []point) error {
	for i := 1; i < len(s); i++ {
		if s[i].t.Before(s[i-1].t) {
			return fmt.Errorf("sample %d is earlier than sample %d", i, i-1)
		}
	}
	return nil
}
