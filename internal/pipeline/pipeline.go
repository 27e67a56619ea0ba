// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline runs the whole attitude and calibration chain: filter
// every baseline, reconstruct antenna positions, solve the attitude, model
// the geometric bias and calibrate each observed axis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/bias"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/calibration"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/gnss"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/reconstruct"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/timesync"
)

// Config gathers the settings of every stage.
type Config struct {
	Filter         gnss.FilterConfig
	Reconstruct    reconstruct.Config
	Solver         orientation.SolverConfig
	Sync           timesync.Config
	Calibration    calibration.Config
	Convention     observation.Convention
	ExcludeFlagged bool // drop flagged attitude samples before synchronization
	Workers        int  // concurrent baseline tasks, 0 for one per baseline
}

func DefaultConfig() Config {
	return Config{
		Filter:      gnss.DefaultFilterConfig(),
		Reconstruct: reconstruct.DefaultConfig(),
		Solver:      orientation.DefaultSolverConfig(),
		Sync:        timesync.DefaultConfig(),
		Calibration: calibration.DefaultConfig(),
		Convention:  observation.Native,
	}
}

// Stage names a point in the pipeline at which progress is reported.
type Stage string

const (
	StageFilter      Stage = "filter"
	StageReconstruct Stage = "reconstruct"
	StageSolve       Stage = "solve"
	StageBias        Stage = "bias"
	StageSync        Stage = "sync"
	StageCalibrate   Stage = "calibrate"
)

var stagePercent = map[Stage]int{
	StageFilter:      15,
	StageReconstruct: 35,
	StageSolve:       55,
	StageBias:        65,
	StageSync:        80,
	StageCalibrate:   100,
}

// Progress is reported once a stage has completed.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// ProgressFunc receives stage completions. It is called on the goroutine
// running Run, never concurrently, and must not call back into the Engine.
// It may cancel the context of the run.
type ProgressFunc func(Progress)

// Inputs are the materialized series of one run.
type Inputs struct {
	// Baselines holds one position series per rover antenna, keyed by its
	// label in the geometry.
	Baselines    map[string][]gnss.PositionSample
	Observations []observation.Observation
}

// Report is everything a run produced, with the count of every skipped or
// flagged item.
type Report struct {
	Filter         map[string]gnss.FilterStats                 `json:"filter"`
	BaselineErrors map[string]string                           `json:"baseline_errors,omitempty"`
	Reconstruction reconstruct.Stats                           `json:"reconstruction"`
	Solve          orientation.SolveStats                      `json:"solve"`
	Excluded       int                                         `json:"excluded_flagged"`
	Static         bias.Static                                 `json:"static_bias"`
	Sensors        map[string]observation.Assessment           `json:"sensors,omitempty"`
	Sync           map[observation.Axis]timesync.Stats         `json:"sync"`
	Axes           map[observation.Axis]calibration.AxisResult `json:"axes"`
	Attitude       []orientation.AttitudeSample                `json:"attitude"`
	Bias           []bias.Sample                               `json:"bias"`
}

// Engine holds a validated configuration for one antenna geometry. It keeps
// no state between runs and may be used from several goroutines.
type Engine struct {
	geom   *geometry.Geometry
	cfg    Config
	recon  *reconstruct.Reconstructor
	solver *orientation.Solver
	bias   *bias.Model
}

// NewEngine validates the whole configuration up front.
func NewEngine(geom *geometry.Geometry, cfg Config) (*Engine, error) {
	if geom == nil {
		return nil, fmt.Errorf("pipeline: nil geometry")
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Sync.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("pipeline: workers must not be negative, got %d", cfg.Workers)
	}
	for _, s := range []float64{cfg.Convention.HeadingSign, cfg.Convention.PitchSign, cfg.Convention.RollSign} {
		if s != 1 && s != -1 {
			return nil, fmt.Errorf("pipeline: sign convention %s must use ±1", cfg.Convention)
		}
	}

	recon, err := reconstruct.New(geom, cfg.Reconstruct)
	if err != nil {
		return nil, err
	}
	solver, err := orientation.NewSolver(geom, cfg.Solver)
	if err != nil {
		return nil, err
	}
	model, err := bias.NewModel(geom)
	if err != nil {
		return nil, err
	}
	return &Engine{geom: geom, cfg: cfg, recon: recon, solver: solver, bias: model}, nil
}

// Geometry returns the antenna geometry of the engine.
func (e *Engine) Geometry() *geometry.Geometry { return e.geom }

// BiasModel returns the geometric bias model of the engine.
func (e *Engine) BiasModel() *bias.Model { return e.bias }

type baselineResult struct {
	kept  []gnss.PositionSample
	stats gnss.FilterStats
	err   error
}

// Run processes one set of inputs. Baselines are filtered concurrently and
// joined before reconstruction. When a baseline fails the report still holds
// the filter results of the others and the joined baseline errors are
// returned. Axes that cannot be calibrated are reported in the result, not
// as an error.
func (e *Engine) Run(in Inputs, progress ProgressFunc) (*Report, error) {
	return e.RunContext(context.Background(), in, progress)
}

// RunContext is Run stopping at the next stage boundary once ctx is done.
// The report then holds the stages completed so far and the error wraps
// ctx.Err().
func (e *Engine) RunContext(ctx context.Context, in Inputs, progress ProgressFunc) (*Report, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	emit := func(stage Stage, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Printf("pipeline: %s: %s", stage, msg)
		progress(Progress{Stage: stage, Percent: stagePercent[stage], Message: msg})
	}
	stopped := func(after Stage) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: stopped after %s: %w", after, err)
		}
		return nil
	}

	report := &Report{
		Filter: make(map[string]gnss.FilterStats),
		Sync:   make(map[observation.Axis]timesync.Stats),
		Axes:   make(map[observation.Axis]calibration.AxisResult),
	}

	// Fan out: one task per expected rover plus any unexpected label, each
	// writing only its own slot.
	labels := e.geom.Rovers()
	for l := range in.Baselines {
		if !slices.Contains(labels, l) {
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("pipeline: %w", err)
	}
	results := make([]baselineResult, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Workers > 0 {
		g.SetLimit(e.cfg.Workers)
	}
	for i, label := range labels {
		i, label := i, label
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.filterBaseline(label, in.Baselines)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("pipeline: %w", err)
	}

	filtered := make(map[string][]gnss.PositionSample, len(labels))
	var errs []error
	for i, label := range labels {
		r := results[i]
		if r.err != nil {
			if report.BaselineErrors == nil {
				report.BaselineErrors = make(map[string]string)
			}
			report.BaselineErrors[label] = r.err.Error()
			errs = append(errs, r.err)
			continue
		}
		report.Filter[label] = r.stats
		filtered[label] = r.kept
	}
	emit(StageFilter, "%d baselines filtered, %d failed", len(report.Filter), len(errs))
	if len(errs) > 0 {
		return report, fmt.Errorf("pipeline: baseline failure: %w", errors.Join(errs...))
	}
	if err := stopped(StageFilter); err != nil {
		return report, err
	}

	// Join point.
	epochs, rstats, err := e.recon.Reconstruct(filtered)
	if err != nil {
		return report, err
	}
	report.Reconstruction = rstats
	emit(StageReconstruct, "%d epochs, %d unmatched samples, %d with too few antennas",
		rstats.Epochs, rstats.UnmatchedTotal(), rstats.Insufficient)
	if err := stopped(StageReconstruct); err != nil {
		return report, err
	}

	attitude, sstats := e.solver.SolveAll(epochs)
	report.Solve = sstats
	report.Attitude = attitude
	emit(StageSolve, "%d attitudes solved, %d flagged, %d failed", sstats.Solved, sstats.Flagged, sstats.Failed)
	if err := stopped(StageSolve); err != nil {
		return report, err
	}

	report.Bias = e.bias.Series(attitude)
	report.Static = e.bias.Static()
	emit(StageBias, "%d bias samples, static plane tilt pitch %.3f roll %.3f",
		len(report.Bias), report.Static.Pitch, report.Static.Roll)
	if err := stopped(StageBias); err != nil {
		return report, err
	}

	usable := attitude
	if e.cfg.ExcludeFlagged {
		usable = make([]orientation.AttitudeSample, 0, len(attitude))
		for _, a := range attitude {
			if a.Flags != 0 {
				report.Excluded++
				continue
			}
			usable = append(usable, a)
		}
	}

	observations := e.cfg.Convention.Apply(in.Observations)
	report.Sensors = observation.AssessBySource(observations)
	byAxis := observation.Split(observations)
	pairs := make(map[observation.Axis][]timesync.Pair)
	for _, axis := range observation.Axes {
		obs, ok := byAxis[axis]
		if !ok {
			continue
		}
		p, st, err := timesync.Synchronize(usable, obs, axis, e.cfg.Sync)
		if err != nil {
			return report, err
		}
		pairs[axis] = p
		report.Sync[axis] = st
	}
	emit(StageSync, "%s", syncSummary(report.Sync))
	if err := stopped(StageSync); err != nil {
		return report, err
	}

	calibrated := 0
	for _, axis := range observation.Axes {
		p, ok := pairs[axis]
		if !ok {
			continue
		}
		res, err := calibration.Estimate(p, axis, e.cfg.Calibration)
		var ide *calibration.InsufficientDataError
		if err != nil && !errors.As(err, &ide) {
			return report, err
		}
		if res.Calibratable {
			calibrated++
		}
		report.Axes[axis] = res
	}
	emit(StageCalibrate, "%d of %d axes calibrated", calibrated, len(pairs))

	return report, nil
}

func (e *Engine) filterBaseline(label string, baselines map[string][]gnss.PositionSample) baselineResult {
	if _, ok := e.geom.Position(label); !ok || label == e.geom.Reference() {
		return baselineResult{err: fmt.Errorf("baseline %q: not a rover antenna of the geometry", label)}
	}
	samples, ok := baselines[label]
	if !ok {
		return baselineResult{err: fmt.Errorf("baseline %q: no data", label)}
	}
	if err := gnss.CheckSorted(samples); err != nil {
		return baselineResult{err: fmt.Errorf("baseline %q: %w", label, err)}
	}
	kept, stats := gnss.Filter(samples, e.cfg.Filter)
	return baselineResult{kept: kept, stats: stats}
}

func syncSummary(stats map[observation.Axis]timesync.Stats) string {
	if len(stats) == 0 {
		return "no observations"
	}
	msg := ""
	for _, axis := range observation.Axes {
		st, ok := stats[axis]
		if !ok {
			continue
		}
		if msg != "" {
			msg += ", "
		}
		msg += fmt.Sprintf("%s %d pairs (%d gap, %d outside overlap)", axis, st.Paired, st.RejectedGap, st.OutsideOverlap)
	}
	return msg
}
