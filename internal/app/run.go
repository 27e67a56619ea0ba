// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/gnss"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
)

// ResultVersion is bumped whenever the result document changes shape.
const ResultVersion = 1

// RunRequest names the input files of one calibration run.
type RunRequest struct {
	Baselines map[string]string `json:"baselines"`        // rover label -> .pos file
	Sensors   []string          `json:"sensors"`          // NMEA logs or CSV exports
	Source    string            `json:"source,omitempty"` // sensor name, defaults to SENSOR_SOURCE
}

// Result is the document written after a run.
type Result struct {
	Version   int                      `json:"version"`
	RunID     string                   `json:"run_id"`
	Timestamp time.Time                `json:"timestamp"`
	Reference string                   `json:"reference_antenna"`
	Antennas  map[string]geometry.Vec3 `json:"antennas"`
	Inputs    RunRequest               `json:"inputs"`
	Report    *pipeline.Report         `json:"report"`
	Error     string                   `json:"error,omitempty"` // set when the run failed part way
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewEngine builds the pipeline for the configured geometry.
func NewEngine(cfg *config.Config) (*pipeline.Engine, error) {
	g, err := cfg.Geometry()
	if err != nil {
		return nil, err
	}
	return pipeline.NewEngine(g, cfg.Pipeline())
}

// LoadInputs reads every file named by req.
func LoadInputs(cfg *config.Config, req RunRequest) (pipeline.Inputs, error) {
	in := pipeline.Inputs{Baselines: make(map[string][]gnss.PositionSample, len(req.Baselines))}

	for label, path := range req.Baselines {
		samples, err := gnss.LoadPosFile(path, cfg.PosOptions())
		if err != nil {
			return in, fmt.Errorf("baseline %q: %w", label, err)
		}
		log.Printf("run: %s: %d position samples from %s", label, len(samples), path)
		in.Baselines[label] = samples
	}

	source := req.Source
	if source == "" {
		source = cfg.SensorSource
	}
	for _, path := range req.Sensors {
		obs, err := observation.Load(path, source)
		if err != nil {
			return in, err
		}
		log.Printf("run: %d observations from %s", len(obs), path)
		in.Observations = append(in.Observations, obs...)
	}
	return in, nil
}

// Calibrate loads the inputs of req and runs the pipeline on them. The
// report of a failed or cancelled run is returned alongside the error when
// the pipeline got far enough to produce one.
func Calibrate(ctx context.Context, cfg *config.Config, runID string, req RunRequest, progress pipeline.ProgressFunc) (*Result, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	in, err := LoadInputs(cfg, req)
	if err != nil {
		return nil, err
	}

	g := engine.Geometry()
	res := &Result{
		Version:   ResultVersion,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Reference: g.Reference(),
		Antennas:  make(map[string]geometry.Vec3, g.Len()),
		Inputs:    req,
	}
	for _, l := range g.Labels() {
		p, _ := g.Position(l)
		res.Antennas[l] = p
	}

	report, err := engine.RunContext(ctx, in, progress)
	res.Report = report
	if err != nil {
		return res, fmt.Errorf("run %s: %w", runID, err)
	}
	return res, nil
}

// WriteResult stores res as indented JSON in dir and returns the file path.
func WriteResult(dir string, res *Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ts := res.Timestamp.Format("2006-01-02T15-04-05Z07-00")
	id := res.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	name := filepath.Join(dir, fmt.Sprintf("dyncal_%s_%s.json", ts, id))

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(name, b, 0o644); err != nil {
		return "", err
	}
	log.Printf("run: saved results to %s", name)
	return name, nil
}

// WritePartialResult stores what a failed run produced, tagged with runErr.
// It returns an empty path when the run failed before the pipeline made a
// report.
func WritePartialResult(dir string, res *Result, runErr error) (string, error) {
	if res == nil || res.Report == nil {
		return "", nil
	}
	res.Error = runErr.Error()
	return WriteResult(dir, res)
}

// WriteAttitudeCSV writes the attitude and geometric bias series side by
// side, one row per solved epoch.
func WriteAttitudeCSV(w io.Writer, report *pipeline.Report) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	header := []string{"Time", "Heading", "Pitch", "Roll", "Residual", "Flags",
		"BiasHeading", "BiasPitch", "BiasRoll"}
	if err := cw.Write(header); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for i, a := range report.Attitude {
		row := []string{
			a.Time.UTC().Format(time.RFC3339Nano),
			f(a.Heading), f(a.Pitch), f(a.Roll), f(a.Residual), a.Flags.String(),
			"", "", "",
		}
		if i < len(report.Bias) {
			b := report.Bias[i]
			row[6], row[7], row[8] = f(b.Heading), f(b.Pitch), f(b.Roll)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// BaselineFiles pairs rover labels with paths given as label=path.
func BaselineFiles(cfg *config.Config, specs []string) (map[string]string, error) {
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		label, path, ok := strings.Cut(s, "=")
		if !ok || label == "" || path == "" {
			return nil, fmt.Errorf("baseline %q: expected label=path", s)
		}
		if _, known := cfg.Antennas[label]; !known {
			return nil, fmt.Errorf("baseline %q: unknown antenna %q (have %v)", s, label, cfg.AntennaLabels())
		}
		out[label] = path
	}
	return out, nil
}

// reportAxes returns the calibrated axes of a report in report order.
func reportAxes(report *pipeline.Report) []observation.Axis {
	var axes []observation.Axis
	for _, a := range observation.Axes {
		if _, ok := report.Axes[a]; ok {
			axes = append(axes, a)
		}
	}
	return axes
}
