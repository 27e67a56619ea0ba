// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration turns synchronized computed/observed pairs into a
// sensor bias estimate per axis.
package calibration

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/timesync"
)

// Defaults for Config.
const (
	DefaultSigmaClip     = 3.0
	DefaultMaxIterations = 10
	DefaultMinPairs      = 10
)

type Config struct {
	SigmaClip     float64 // clip residuals further than this many std from the mean
	MaxIterations int     // cap on clipping passes
	MinPairs      int     // fewer pairs than this makes an axis not calibratable
}

func DefaultConfig() Config {
	return Config{
		SigmaClip:     DefaultSigmaClip,
		MaxIterations: DefaultMaxIterations,
		MinPairs:      DefaultMinPairs,
	}
}

func (c Config) Validate() error {
	if !(c.SigmaClip > 0) || math.IsInf(c.SigmaClip, 0) {
		return fmt.Errorf("calibration: sigma clip must be a positive number, got %v", c.SigmaClip)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("calibration: max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.MinPairs < 3 {
		return fmt.Errorf("calibration: min pairs must be at least 3, got %d", c.MinPairs)
	}
	return nil
}

// InsufficientDataError reports an axis with too few pairs to calibrate.
type InsufficientDataError struct {
	Axis  observation.Axis
	Stage string // "sync" or "clip"
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %d pairs after %s, need %d", e.Axis, e.Have, e.Stage, e.Need)
}

// Grade rates the residual scatter of a calibrated axis.
type Grade string

const (
	GradeExcellent  Grade = "excellent"
	GradeGood       Grade = "good"
	GradeAcceptable Grade = "acceptable"
	GradePoor       Grade = "poor"
)

// GradeFor maps a residual standard deviation in degrees to a grade.
func GradeFor(std float64) Grade {
	switch {
	case std < 0.1:
		return GradeExcellent
	case std < 0.5:
		return GradeGood
	case std < 1.0:
		return GradeAcceptable
	}
	return GradePoor
}

// Residual is computed − observed at one instant.
type Residual struct {
	Time    time.Time `json:"time"`
	Value   float64   `json:"value"`
	Outlier bool      `json:"outlier"`
}

// Drift is the least-squares line through the kept residuals against
// elapsed time. Valid is false when fewer than three residuals or a single
// timestamp make the slope undefined.
type Drift struct {
	Slope       float64 `json:"slope"`         // degrees per second
	SlopeStdErr float64 `json:"slope_std_err"` // degrees per second
	Intercept   float64 `json:"intercept"`     // degrees at the first kept residual
	PerHour     float64 `json:"per_hour"`      // degrees per hour
	Valid       bool    `json:"valid"`
}

// AxisResult is the calibration of one axis.
type AxisResult struct {
	Axis         observation.Axis `json:"axis"`
	Calibratable bool             `json:"calibratable"`
	Reason       string           `json:"reason,omitempty"`

	Pairs      int `json:"pairs"`
	Used       int `json:"used"`
	Outliers   int `json:"outliers"`
	Iterations int `json:"iterations"`

	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	RMS    float64 `json:"rms"`
	Grade  Grade   `json:"grade,omitempty"`
	Drift  Drift   `json:"drift"`

	Residuals []Residual `json:"residuals"`
}

// Residuals computes computed − observed for every pair. Heading residuals
// use the shortest arc and are then unwrapped around their circular mean so
// that a bias near ±180° does not split into two clusters.
func Residuals(pairs []timesync.Pair, axis observation.Axis) []Residual {
	out := make([]Residual, len(pairs))
	for i, p := range pairs {
		v := p.Computed - p.Observed
		if axis.Circular() {
			v = orientation.AngleDiff(p.Computed, p.Observed)
		}
		out[i] = Residual{Time: p.Time, Value: v}
	}
	if axis.Circular() && len(out) > 0 {
		rad := make([]float64, len(out))
		for i, r := range out {
			rad[i] = orientation.Rad(r.Value)
		}
		center := orientation.Deg(stat.CircularMean(rad, nil))
		for i := range out {
			out[i].Value = center + orientation.AngleDiff(out[i].Value, center)
		}
	}
	return out
}

// Estimate computes the bias statistics of one axis. When too few pairs are
// available before or after outlier rejection the result is marked not
// calibratable and an *InsufficientDataError is returned with it.
func Estimate(pairs []timesync.Pair, axis observation.Axis, cfg Config) (AxisResult, error) {
	if err := cfg.Validate(); err != nil {
		return AxisResult{Axis: axis}, err
	}
	res := AxisResult{Axis: axis, Pairs: len(pairs), Residuals: Residuals(pairs, axis)}
	if len(pairs) < cfg.MinPairs {
		err := &InsufficientDataError{Axis: axis, Stage: "sync", Have: len(pairs), Need: cfg.MinPairs}
		res.Reason = err.Error()
		return res, err
	}

	values := make([]float64, len(res.Residuals))
	for i, r := range res.Residuals {
		values[i] = r.Value
	}
	kept, iterations := clip(values, cfg.SigmaClip, cfg.MaxIterations)
	res.Iterations = iterations

	var used []float64
	var usedAt []time.Time
	for i := range res.Residuals {
		if kept[i] {
			used = append(used, values[i])
			usedAt = append(usedAt, res.Residuals[i].Time)
		} else {
			res.Residuals[i].Outlier = true
		}
	}
	res.Used = len(used)
	res.Outliers = len(values) - len(used)

	if len(used) < cfg.MinPairs {
		err := &InsufficientDataError{Axis: axis, Stage: "clip", Have: len(used), Need: cfg.MinPairs}
		res.Reason = err.Error()
		return res, err
	}

	res.Calibratable = true
	res.Mean, res.StdDev = stat.MeanStdDev(used, nil)
	res.Min = floats.Min(used)
	res.Max = floats.Max(used)
	res.RMS = math.Sqrt(floats.Dot(used, used) / float64(len(used)))

	sorted := append([]float64(nil), used...)
	sort.Float64s(sorted)
	res.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	res.Grade = GradeFor(res.StdDev)
	res.Drift = drift(usedAt, used)
	return res, nil
}

// clip runs iterative sigma clipping. Every pass reclassifies all values
// against the mean and standard deviation of the previous kept set, so a
// value rejected early can come back. It stops when the kept set no longer
// changes, when the spread is zero or after maxIter passes.
func clip(values []float64, k float64, maxIter int) ([]bool, int) {
	kept := make([]bool, len(values))
	for i := range kept {
		kept[i] = true
	}

	sub := make([]float64, 0, len(values))
	iter := 0
	for iter < maxIter {
		sub = sub[:0]
		for i, v := range values {
			if kept[i] {
				sub = append(sub, v)
			}
		}
		if len(sub) < 2 {
			break
		}
		mean, std := stat.MeanStdDev(sub, nil)
		if std == 0 {
			break
		}
		iter++

		changed := false
		for i, v := range values {
			in := math.Abs(v-mean) <= k*std
			if in != kept[i] {
				kept[i] = in
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return kept, iter
}

func drift(at []time.Time, y []float64) Drift {
	if len(y) < 3 {
		return Drift{}
	}
	x := make([]float64, len(at))
	for i, t := range at {
		x[i] = t.Sub(at[0]).Seconds()
	}

	mx := stat.Mean(x, nil)
	var sxx float64
	for _, v := range x {
		sxx += (v - mx) * (v - mx)
	}
	if sxx == 0 {
		return Drift{}
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	var ssr float64
	for i := range x {
		e := y[i] - (alpha + beta*x[i])
		ssr += e * e
	}
	return Drift{
		Slope:       beta,
		SlopeStdErr: math.Sqrt(ssr / float64(len(x)-2) / sxx),
		Intercept:   alpha,
		PerHour:     beta * 3600,
		Valid:       true,
	}
}
