// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/reconstruct"
)

// Default solver thresholds.
const (
	DefaultMaxResidual    = 0.10 // meters
	DefaultConditionFloor = 1e-3
)

// SolverConfig holds the flagging thresholds of the solver.
type SolverConfig struct {
	MaxResidual    float64 // RMS residual ceiling in meters
	ConditionFloor float64 // minimum s2/s1 before a fit is ill-conditioned
}

func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxResidual: DefaultMaxResidual, ConditionFloor: DefaultConditionFloor}
}

func (c SolverConfig) Validate() error {
	if !(c.MaxResidual > 0) || math.IsInf(c.MaxResidual, 0) {
		return fmt.Errorf("solver: max residual must be a positive number, got %v", c.MaxResidual)
	}
	if !(c.ConditionFloor >= 0 && c.ConditionFloor < 1) {
		return fmt.Errorf("solver: condition floor must be in [0, 1), got %v", c.ConditionFloor)
	}
	return nil
}

// SolveStats summarizes a SolveAll run.
type SolveStats struct {
	Epochs         int `json:"epochs"`
	Solved         int `json:"solved"`
	Failed         int `json:"failed"`
	HighResidual   int `json:"high_residual"`
	GimbalLock     int `json:"gimbal_lock"`
	IllConditioned int `json:"ill_conditioned"`
	Constrained    int `json:"constrained"`
	Flagged        int `json:"flagged"` // samples with at least one flag
}

// Solver fits the antenna geometry to reconstructed epochs.
type Solver struct {
	geom *geometry.Geometry
	cfg  SolverConfig
}

func NewSolver(geom *geometry.Geometry, cfg SolverConfig) (*Solver, error) {
	if geom == nil {
		return nil, fmt.Errorf("solver: nil geometry")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solver{geom: geom, cfg: cfg}, nil
}

// Solve computes the attitude at one epoch from the antennas present in
// both the epoch and the geometry.
func (s *Solver) Solve(ep reconstruct.Epoch) (AttitudeSample, error) {
	var ship, enu []geometry.Vec3
	for _, l := range s.geom.Labels() {
		q, ok := ep.Positions[l]
		if !ok || !q.IsFinite() {
			continue
		}
		p, _ := s.geom.Position(l)
		ship = append(ship, p)
		enu = append(enu, q)
	}

	fit, err := Fit(ship, enu)
	if err != nil {
		return AttitudeSample{}, fmt.Errorf("epoch %s: %w", ep.Time, err)
	}

	att, locked := EulerFromRotation(fit.R)
	sample := AttitudeSample{Time: ep.Time, Attitude: att, Residual: fit.Residual}
	if locked {
		sample.Flags |= FlagGimbalLock
	}
	if fit.Residual > s.cfg.MaxResidual {
		sample.Flags |= FlagHighResidual
	}
	if fit.Condition < s.cfg.ConditionFloor {
		sample.Flags |= FlagIllConditioned
	}
	if fit.Constrained {
		sample.Flags |= FlagConstrained
	}
	return sample, nil
}

// SolveAll solves every epoch in order. Epochs that cannot be fitted are
// skipped and counted.
func (s *Solver) SolveAll(epochs []reconstruct.Epoch) ([]AttitudeSample, SolveStats) {
	stats := SolveStats{Epochs: len(epochs)}
	out := make([]AttitudeSample, 0, len(epochs))
	for _, ep := range epochs {
		a, err := s.Solve(ep)
		if err != nil {
			stats.Failed++
			continue
		}
		stats.Solved++
		if a.Flags != 0 {
			stats.Flagged++
		}
		if a.Flags.Has(FlagHighResidual) {
			stats.HighResidual++
		}
		if a.Flags.Has(FlagGimbalLock) {
			stats.GimbalLock++
		}
		if a.Flags.Has(FlagIllConditioned) {
			stats.IllConditioned++
		}
		if a.Flags.Has(FlagConstrained) {
			stats.Constrained++
		}
		out = append(out, a)
	}
	return out, stats
}
