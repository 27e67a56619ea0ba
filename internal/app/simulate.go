// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/gnss"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

// SimulateOptions shapes a synthetic survey.
type SimulateOptions struct {
	Start    time.Time
	Duration time.Duration
	Step     time.Duration
	Noise    float64              // 1-sigma noise on each baseline component, meters
	Offset   orientation.Attitude // true attitude minus sensor reading, degrees
	Seed     int64
}

func DefaultSimulateOptions() SimulateOptions {
	return SimulateOptions{
		Start:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration: 10 * time.Minute,
		Step:     time.Second,
		Noise:    0.005,
		Offset:   orientation.Attitude{Heading: 1.5, Pitch: -0.2, Roll: 0.3},
		Seed:     1,
	}
}

// Simulate writes a survey of the configured vessel into dir: one .pos file
// per rover antenna and one timestamped NMEA log of a sensor that reads the
// mock ship motion minus opts.Offset, in the configured sign convention.
// The returned request runs the calibration on those files.
func Simulate(cfg *config.Config, dir string, opts SimulateOptions) (RunRequest, error) {
	if opts.Step <= 0 || opts.Duration < opts.Step {
		return RunRequest{}, fmt.Errorf("simulate: step %v and duration %v give no epochs", opts.Step, opts.Duration)
	}
	g, err := cfg.Geometry()
	if err != nil {
		return RunRequest{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return RunRequest{}, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	src := orientation.NewMockSource(opts.Start, opts.Step)
	n := int(opts.Duration / opts.Step)

	baselines := make(map[string][]gnss.PositionSample)
	var sentences []string
	var stamps []time.Time
	conv := cfg.SensorConvention
	for i := 0; i < n; i++ {
		a, err := src.Next()
		if err != nil {
			return RunRequest{}, err
		}
		pos := orientation.Place(g, a.Attitude, cfg.ReferenceOrigin)
		ref := pos[g.Reference()]
		for _, l := range g.Rovers() {
			noise := geometry.Vec3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Scale(opts.Noise)
			baselines[l] = append(baselines[l], gnss.PositionSample{
				// .pos files are stamped in GPS time; reading them applies the offset.
				Time:     a.Time.Add(-cfg.PosTimeOffset),
				ENH:      pos[l].Sub(ref).Add(noise),
				Quality:  gnss.QualityFix,
				StdDev3D: gnss.StdDev3D(opts.Noise, opts.Noise, opts.Noise) + 0.001,
			})
		}

		heading := conv.HeadingSign * orientation.NormalizeHeading(a.Heading-opts.Offset.Heading)
		pitch := conv.PitchSign * (a.Pitch - opts.Offset.Pitch)
		roll := conv.RollSign * (a.Roll - opts.Offset.Roll)
		body := fmt.Sprintf("PRDID,%.3f,%.3f,%.3f", pitch, roll, heading)
		sentences = append(sentences, "$"+body+"*"+nmea.Checksum(body))
		stamps = append(stamps, a.Time)
	}

	req := RunRequest{Baselines: make(map[string]string), Source: cfg.SensorSource}
	for l, samples := range baselines {
		path := filepath.Join(dir, l+".pos")
		if err := writeFile(path, func(w *bufio.Writer) error { return gnss.WritePosFile(w, samples) }); err != nil {
			return RunRequest{}, err
		}
		req.Baselines[l] = path
	}

	sensor := filepath.Join(dir, cfg.SensorSource+".nmea")
	err = writeFile(sensor, func(w *bufio.Writer) error {
		for i, s := range sentences {
			if _, err := fmt.Fprintln(w, observation.FormatLogLine(stamps[i], s)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RunRequest{}, err
	}
	req.Sensors = []string{sensor}

	log.Printf("simulate: %d epochs of %d rovers written to %s", n, len(baselines), dir)
	return req, nil
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
