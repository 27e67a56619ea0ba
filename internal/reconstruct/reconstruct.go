// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package reconstruct turns per-baseline ENU vectors into per-epoch absolute
// antenna positions, matching the baselines on time.
package reconstruct

import (
	"fmt"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/gnss"
)

// DefaultTolerance is the default epoch matching tolerance.
const DefaultTolerance = time.Second

// distinctTol is the distance below which two antenna positions count as one.
const distinctTol = 1e-6

// Config controls epoch matching.
type Config struct {
	// Tolerance is the largest spread of sample times that may be merged
	// into one epoch.
	Tolerance time.Duration
	// Origin is where the reference antenna is placed at every epoch.
	Origin geometry.Vec3
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() Config {
	return Config{Tolerance: DefaultTolerance}
}

// Epoch holds the absolute ENU position of every antenna at one instant.
type Epoch struct {
	Time      time.Time                `json:"time"`
	Positions map[string]geometry.Vec3 `json:"positions"`
}

// Stats reports what happened during reconstruction.
type Stats struct {
	Epochs       int            `json:"epochs"`
	Unmatched    map[string]int `json:"unmatched"`
	Insufficient int            `json:"insufficient"`
}

// UnmatchedTotal sums the unmatched samples over every baseline.
func (s Stats) UnmatchedTotal() int {
	n := 0
	for _, c := range s.Unmatched {
		n += c
	}
	return n
}

// InsufficientAntennasError reports an epoch with too few usable antenna
// positions to fix an attitude.
type InsufficientAntennasError struct {
	Time time.Time
	Have int
	Need int
}

func (e *InsufficientAntennasError) Error() string {
	return fmt.Sprintf("epoch %s: %d independent antenna positions, need %d",
		e.Time.Format(time.RFC3339Nano), e.Have, e.Need)
}

// Reconstructor matches baselines against one antenna geometry.
type Reconstructor struct {
	geom   *geometry.Geometry
	cfg    Config
	rovers []string
}

// New checks the configuration and returns a Reconstructor.
func New(geom *geometry.Geometry, cfg Config) (*Reconstructor, error) {
	if geom == nil {
		return nil, fmt.Errorf("reconstruct: nil geometry")
	}
	if cfg.Tolerance <= 0 {
		return nil, fmt.Errorf("reconstruct: tolerance must be positive, got %s", cfg.Tolerance)
	}
	if !cfg.Origin.IsFinite() {
		return nil, fmt.Errorf("reconstruct: origin must be finite")
	}
	return &Reconstructor{geom: geom, cfg: cfg, rovers: geom.Rovers()}, nil
}

// Reconstruct merges the baselines, keyed by rover antenna label, into
// epochs. Every baseline must be sorted by time. It runs as a single pass
// over all sequences.
//
// An epoch is formed only when every baseline has a sample inside the
// tolerance window; the epoch time is the earliest of the matched samples.
// When the earliest head has a successor that would tighten the match, the
// head is dropped as unmatched so samples pair by nearest time.
//
// The returned error is a configuration error: a baseline for an unknown
// antenna, a missing baseline or an unsorted sequence. Epochs without enough
// independent antenna positions are skipped and counted.
func (r *Reconstructor) Reconstruct(baselines map[string][]gnss.PositionSample) ([]Epoch, Stats, error) {
	ref := r.geom.Reference()
	for label := range baselines {
		if label == ref {
			return nil, Stats{}, fmt.Errorf("reconstruct: baseline given for reference antenna %q", label)
		}
		if _, ok := r.geom.Position(label); !ok {
			return nil, Stats{}, fmt.Errorf("reconstruct: baseline %q is not in the antenna geometry", label)
		}
	}

	seqs := make([][]gnss.PositionSample, len(r.rovers))
	for i, label := range r.rovers {
		s, ok := baselines[label]
		if !ok {
			return nil, Stats{}, fmt.Errorf("reconstruct: no baseline for antenna %q", label)
		}
		if err := gnss.CheckSorted(s); err != nil {
			return nil, Stats{}, fmt.Errorf("reconstruct: baseline %q: %w", label, err)
		}
		seqs[i] = s
	}

	stats := Stats{Unmatched: make(map[string]int, len(r.rovers))}
	for _, label := range r.rovers {
		stats.Unmatched[label] = 0
	}

	var epochs []Epoch
	idx := make([]int, len(seqs))
	for exhausted(seqs, idx) < 0 {
		lead, tMin, tMax := spread(seqs, idx)

		if tMax.Sub(tMin) > r.cfg.Tolerance {
			stats.Unmatched[r.rovers[lead]]++
			idx[lead]++
			continue
		}

		if next := idx[lead] + 1; next < len(seqs[lead]) {
			if r.tighter(seqs, idx, lead, seqs[lead][next].Time, tMax.Sub(tMin)) {
				stats.Unmatched[r.rovers[lead]]++
				idx[lead]++
				continue
			}
		}

		ep, err := r.resolve(tMin, seqs, idx)
		for i := range idx {
			idx[i]++
		}
		if err != nil {
			stats.Insufficient++
			continue
		}
		epochs = append(epochs, ep)
	}

	// Whatever is left cannot be matched any more.
	for i, s := range seqs {
		stats.Unmatched[r.rovers[i]] += len(s) - idx[i]
	}
	stats.Epochs = len(epochs)
	return epochs, stats, nil
}

// exhausted returns the index of the first sequence with no samples left,
// or -1.
func exhausted(seqs [][]gnss.PositionSample, idx []int) int {
	for i := range seqs {
		if idx[i] >= len(seqs[i]) {
			return i
		}
	}
	return -1
}

// spread returns the sequence holding the earliest head and the earliest and
// latest head times. Ties go to the lowest index.
func spread(seqs [][]gnss.PositionSample, idx []int) (lead int, tMin, tMax time.Time) {
	for i := range seqs {
		t := seqs[i][idx[i]].Time
		if i == 0 || t.Before(tMin) {
			lead, tMin = i, t
		}
		if i == 0 || t.After(tMax) {
			tMax = t
		}
	}
	return lead, tMin, tMax
}

// tighter reports whether replacing the lead head by a sample at next would
// shrink the spread of the candidate match below cur.
func (r *Reconstructor) tighter(seqs [][]gnss.PositionSample, idx []int, lead int, next time.Time, cur time.Duration) bool {
	lo, hi := next, next
	for i := range seqs {
		if i == lead {
			continue
		}
		t := seqs[i][idx[i]].Time
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return hi.Sub(lo) < cur
}

func (r *Reconstructor) resolve(t time.Time, seqs [][]gnss.PositionSample, idx []int) (Epoch, error) {
	ep := Epoch{Time: t, Positions: make(map[string]geometry.Vec3, len(seqs)+1)}
	ep.Positions[r.geom.Reference()] = r.cfg.Origin
	for i, label := range r.rovers {
		ep.Positions[label] = r.cfg.Origin.Add(seqs[i][idx[i]].ENH)
	}
	if err := CheckEpoch(ep); err != nil {
		return Epoch{}, err
	}
	return ep, nil
}

// CheckEpoch returns an *InsufficientAntennasError when the epoch has fewer
// than three finite and mutually distinct antenna positions.
func CheckEpoch(ep Epoch) error {
	var distinct []geometry.Vec3
	for _, p := range ep.Positions {
		if !p.IsFinite() {
			continue
		}
		dup := false
		for _, q := range distinct {
			if p.Sub(q).Norm() < distinctTol {
				dup = true
				break
			}
		}
		if !dup {
			distinct = append(distinct, p)
		}
	}
	if len(distinct) < geometry.MinAntennas {
		return &InsufficientAntennasError{Time: ep.Time, Have: len(distinct), Need: geometry.MinAntennas}
	}
	return nil
}
