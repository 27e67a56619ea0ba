// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package observation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

// Plausibility limits of a ship sensor.
const (
	maxHeadingTrack = 720.0 // two full turns
	maxAbsPitch     = 45.0
	maxAbsRoll      = 60.0
)

// AxisStats describes the values of one axis. Heading figures are given on
// the arc centred on the circular mean, so Min may be negative and Max may
// exceed 360; Mean itself is in [0, 360).
type AxisStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Range  float64 `json:"range"`
	Median float64 `json:"median"`
	P05    float64 `json:"p05"`
	P95    float64 `json:"p95"`
}

// Assessment rates the observations of one sensor before calibration.
// Every score is in [0, 1].
type Assessment struct {
	Observations int                `json:"observations"`
	Epochs       int                `json:"epochs"`
	Span         float64            `json:"span_s"`
	MeanInterval float64            `json:"mean_interval_s"`
	Rate         float64            `json:"rate_hz"`
	IntervalCV   float64            `json:"interval_cv"` // std / mean of the epoch intervals
	Axes         map[Axis]AxisStats `json:"axes"`
	HeadingTrack float64            `json:"heading_track,omitempty"` // extent of the unwrapped heading

	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Regularity   float64 `json:"regularity"`
	Overall      float64 `json:"overall"` // 0.3 completeness + 0.4 consistency + 0.3 regularity
	Score        float64 `json:"score"`   // sample count, stability and timing

	MeanAttitude    *orientation.Attitude `json:"mean_attitude,omitempty"`
	Issues          []string              `json:"issues,omitempty"`
	Recommendations []string              `json:"recommendations"`
}

// AssessBySource assesses the observations of every source separately.
func AssessBySource(obs []Observation) map[string]Assessment {
	if len(obs) == 0 {
		return nil
	}
	bySource := make(map[string][]Observation)
	for _, o := range obs {
		bySource[o.Source] = append(bySource[o.Source], o)
	}
	out := make(map[string]Assessment, len(bySource))
	for src, o := range bySource {
		out[src] = Assess(o)
	}
	return out
}

// Assess computes the statistics and quality scores of the observations of
// one sensor. Observations sharing a timestamp form one epoch; a missing or
// non-finite value on an axis the sensor reports counts against
// completeness.
func Assess(obs []Observation) Assessment {
	a := Assessment{Observations: len(obs), Axes: make(map[Axis]AxisStats)}
	if len(obs) == 0 {
		a.Issues = append(a.Issues, "no observations")
		a.Recommendations = append(a.Recommendations, "poor quality, check the data before calibrating")
		return a
	}

	byAxis := Split(obs)
	epochs := epochTimes(obs)
	a.Epochs = len(epochs)

	valid := 0
	for _, axis := range Axes {
		series, ok := byAxis[axis]
		if !ok {
			continue
		}
		values := finiteValues(series)
		valid += len(values)
		if len(values) == 0 {
			a.Axes[axis] = AxisStats{}
			continue
		}
		a.Axes[axis] = axisStats(axis, values)
	}
	a.Completeness = math.Min(1, float64(valid)/float64(len(epochs)*len(byAxis)))

	timed := len(epochs) > 1
	if timed {
		dt := make([]float64, len(epochs)-1)
		for i := 1; i < len(epochs); i++ {
			dt[i-1] = epochs[i].Sub(epochs[i-1]).Seconds()
		}
		mean, std := stat.PopMeanStdDev(dt, nil)
		a.Span = epochs[len(epochs)-1].Sub(epochs[0]).Seconds()
		a.MeanInterval = mean
		a.Rate = 1 / mean
		a.IntervalCV = std / mean
		a.Regularity = math.Max(0, 1-a.IntervalCV)
	} else {
		a.Regularity = 0.5
	}

	var consistency []float64
	if series, ok := byAxis[Heading]; ok {
		a.HeadingTrack = headingTrack(series)
		if a.HeadingTrack > 0 && a.HeadingTrack < maxHeadingTrack {
			consistency = append(consistency, 1)
		} else {
			consistency = append(consistency, 0.5)
			a.Issues = append(a.Issues, fmt.Sprintf("implausible heading track: %.1f°", a.HeadingTrack))
		}
	}
	for _, lim := range []struct {
		axis  Axis
		limit float64
		name  string
	}{
		{Pitch, maxAbsPitch, "pitch"},
		{Roll, maxAbsRoll, "roll"},
	} {
		st, ok := a.Axes[lim.axis]
		if !ok || st.Count == 0 {
			continue
		}
		peak := math.Max(math.Abs(st.Min), math.Abs(st.Max))
		if peak <= lim.limit {
			consistency = append(consistency, 1)
		} else {
			consistency = append(consistency, 0.7)
			a.Issues = append(a.Issues, fmt.Sprintf("high %s: ±%.1f°", lim.name, peak))
		}
	}
	if len(consistency) > 0 {
		a.Consistency = stat.Mean(consistency, nil)
	} else {
		a.Consistency = 0.5
	}

	a.Overall = 0.3*a.Completeness + 0.4*a.Consistency + 0.3*a.Regularity
	a.Score = score(a, timed)
	a.MeanAttitude = meanAttitude(obs)

	if a.Completeness < 0.95 {
		a.Issues = append(a.Issues, fmt.Sprintf("%.0f%% of the values are missing", 100*(1-a.Completeness)))
		a.Recommendations = append(a.Recommendations, "check the missing values")
	}
	if a.Regularity < 0.8 {
		a.Recommendations = append(a.Recommendations, "improve the sampling regularity")
	}
	switch {
	case a.Overall > 0.9:
		a.Recommendations = append(a.Recommendations, "excellent quality, ready for calibration")
	case a.Overall > 0.7:
		a.Recommendations = append(a.Recommendations, "good quality, calibration possible")
	default:
		a.Recommendations = append(a.Recommendations, "poor quality, check the data before calibrating")
	}
	return a
}

func axisStats(axis Axis, values []float64) AxisStats {
	var center float64
	if axis.Circular() {
		rad := make([]float64, len(values))
		for i, v := range values {
			rad[i] = orientation.Rad(v)
		}
		center = orientation.NormalizeHeading(orientation.Deg(stat.CircularMean(rad, nil)))
		unwrapped := make([]float64, len(values))
		for i, v := range values {
			unwrapped[i] = center + orientation.AngleDiff(v, center)
		}
		values = unwrapped
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	st := AxisStats{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P05:    stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	st.Range = st.Max - st.Min
	if len(sorted) > 1 {
		st.Mean, st.StdDev = stat.MeanStdDev(sorted, nil)
	} else {
		st.Mean = sorted[0]
	}
	if axis.Circular() {
		st.Mean = orientation.NormalizeHeading(st.Mean)
	}
	return st
}

// score grades the sample count, the stability of every axis and the
// timing of the epochs, and averages the grades.
func score(a Assessment, timed bool) float64 {
	var parts []float64
	switch {
	case a.Epochs >= 1000:
		parts = append(parts, 1)
	case a.Epochs >= 100:
		parts = append(parts, 0.8)
	case a.Epochs >= 10:
		parts = append(parts, 0.6)
	default:
		parts = append(parts, 0.3)
	}

	var stability []float64
	for _, axis := range Axes {
		st, ok := a.Axes[axis]
		if !ok || st.Count == 0 {
			continue
		}
		switch {
		case st.StdDev < 0.1:
			stability = append(stability, 1)
		case st.StdDev < 0.5:
			stability = append(stability, 0.8)
		case st.StdDev < 1:
			stability = append(stability, 0.6)
		default:
			stability = append(stability, 0.4)
		}
	}
	if len(stability) > 0 {
		parts = append(parts, stat.Mean(stability, nil))
	}
	if timed {
		parts = append(parts, 1-math.Min(1, a.IntervalCV))
	}
	return stat.Mean(parts, nil)
}

// headingTrack is the extent of the heading series followed continuously
// across North.
func headingTrack(series []Observation) float64 {
	values := finiteValues(series)
	if len(values) == 0 {
		return 0
	}
	pos, lo, hi := values[0], values[0], values[0]
	for i := 1; i < len(values); i++ {
		pos += orientation.AngleDiff(values[i], values[i-1])
		lo = math.Min(lo, pos)
		hi = math.Max(hi, pos)
	}
	return hi - lo
}

// meanAttitude averages the rotation of every epoch, taking absent axes
// as zero. It is nil with fewer than two epochs.
func meanAttitude(obs []Observation) *orientation.Attitude {
	byTime := make(map[int64]*orientation.Attitude)
	var order []int64
	for _, o := range obs {
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			continue
		}
		t := o.Time.UnixNano()
		att, ok := byTime[t]
		if !ok {
			att = &orientation.Attitude{}
			byTime[t] = att
			order = append(order, t)
		}
		switch o.Axis {
		case Heading:
			att.Heading = o.Value
		case Pitch:
			att.Pitch = o.Value
		case Roll:
			att.Roll = o.Value
		}
	}
	attitudes := make([]orientation.Attitude, len(order))
	for i, t := range order {
		attitudes[i] = *byTime[t]
	}
	mean, ok := orientation.MeanAttitude(attitudes)
	if !ok {
		return nil
	}
	return &mean
}

// epochTimes returns the distinct timestamps of obs in order.
func epochTimes(obs []Observation) []time.Time {
	seen := make(map[int64]bool, len(obs))
	var out []time.Time
	for _, o := range obs {
		if k := o.Time.UnixNano(); !seen[k] {
			seen[k] = true
			out = append(out, o.Time)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func finiteValues(series []Observation) []float64 {
	out := make([]float64, 0, len(series))
	for _, o := range series {
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			continue
		}
		out = append(out, o.Value)
	}
	return out
}
