// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// dyncal computes ship attitude from GNSS baselines and calibrates an
// attitude sensor against it.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/app"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
)

var (
	configPath string
	baselines  []string // label=path
	sensors    []string
	source     string
	publish    bool   // send progress, summary and series to MQTT
	outputFile string // attitude CSV, stdout when empty
	simDir     string
	simMinutes float64
)

var rootCmd = &cobra.Command{
	Use:   "dyncal",
	Short: "GNSS attitude determination and attitude sensor calibration",
	Long: `dyncal reconstructs the attitude of a vessel from the RTK baselines of
three or more GNSS antennas, models the bias the antenna layout puts on a
measured attitude and estimates the offset of an external heading, pitch and
roll sensor against the GNSS solution.

Examples:
  dyncal geometry
  dyncal run -b Port=port.pos -b Stbd=stbd.pos -s octans.nmea
  dyncal attitude -b Port=port.pos -b Stbd=stbd.pos -o attitude.csv
  dyncal simulate --dir sim && dyncal run -b Port=sim/Port.pos -b Stbd=sim/Stbd.pos -s sim/sensor.nmea`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full calibration and write the result file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, req, err := request()
		if err != nil {
			return err
		}
		if len(req.Sensors) == 0 {
			return fmt.Errorf("no sensor file given (--sensor)")
		}
		return calibrate(cmd.Context(), cfg, req)
	},
}

var attitudeCmd = &cobra.Command{
	Use:   "attitude",
	Short: "Solve attitude and geometric bias only, as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, req, err := request()
		if err != nil {
			return err
		}
		req.Sensors = nil
		res, err := app.Calibrate(cmd.Context(), cfg, app.NewRunID(), req, nil)
		if err != nil {
			return err
		}

		out := os.Stdout
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return app.WriteAttitudeCSV(out, res.Report)
	},
}

var geometryCmd = &cobra.Command{
	Use:   "geometry",
	Short: "Validate the antenna geometry and print its static bias",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		info, err := app.DescribeGeometry(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("reference antenna: %s\n", info.Reference)
		for _, l := range cfg.AntennaLabels() {
			p := info.Antennas[l]
			fmt.Printf("  %-10s x=%9.3f y=%9.3f z=%9.3f\n", l, p.X, p.Y, p.Z)
		}
		fmt.Printf("span:              %.3f m\n", info.Span)
		fmt.Printf("plane normal:      (%.5f, %.5f, %.5f)\n", info.PlaneNormal.X, info.PlaneNormal.Y, info.PlaneNormal.Z)
		fmt.Printf("plane tilt:        pitch %.3f°  roll %.3f°\n", info.PlaneTilt.Pitch, info.PlaneTilt.Roll)
		fmt.Printf("heading baseline:  azimuth %.3f° from the bow\n", info.PlaneTilt.Azimuth)
		return nil
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write a synthetic survey of the configured vessel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		opts := app.DefaultSimulateOptions()
		opts.Duration = time.Duration(simMinutes * float64(time.Minute))
		req, err := app.Simulate(cfg, simDir, opts)
		if err != nil {
			return err
		}
		fmt.Printf("sensor offset: heading %.3f  pitch %.3f  roll %.3f\n",
			opts.Offset.Heading, opts.Offset.Pitch, opts.Offset.Roll)
		for l, p := range req.Baselines {
			fmt.Printf("  -b %s=%s\n", l, p)
		}
		fmt.Printf("  -s %s\n", req.Sensors[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")

	for _, c := range []*cobra.Command{runCmd, attitudeCmd} {
		c.Flags().StringArrayVarP(&baselines, "baseline", "b", nil, "rover baseline as label=file.pos (repeatable)")
		c.MarkFlagRequired("baseline")
	}
	runCmd.Flags().StringArrayVarP(&sensors, "sensor", "s", nil, "sensor NMEA log or CSV export (repeatable)")
	runCmd.Flags().StringVar(&source, "source", "", "sensor name recorded in the observations (default SENSOR_SOURCE)")
	runCmd.Flags().BoolVar(&publish, "publish", false, "publish progress and results to the MQTT broker")
	attitudeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "CSV output file (default: stdout)")
	simulateCmd.Flags().StringVar(&simDir, "dir", "sim", "output directory")
	simulateCmd.Flags().Float64Var(&simMinutes, "minutes", 10, "survey duration in minutes")

	rootCmd.AddCommand(runCmd, attitudeCmd, geometryCmd, simulateCmd)
}

func request() (*config.Config, app.RunRequest, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, app.RunRequest{}, err
	}
	files, err := app.BaselineFiles(cfg, baselines)
	if err != nil {
		return nil, app.RunRequest{}, err
	}
	return cfg, app.RunRequest{Baselines: files, Sensors: sensors, Source: source}, nil
}

func calibrate(ctx context.Context, cfg *config.Config, req app.RunRequest) error {
	runID := app.NewRunID()

	var pub *app.Publisher
	if publish {
		client, err := app.ConnectMQTT(cfg, cfg.MQTTClientIDCalibrate)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		pub = app.NewPublisher(client, cfg)
	}

	res, err := app.Calibrate(ctx, cfg, runID, req, func(p pipeline.Progress) {
		fmt.Printf("[%3d%%] %-11s %s\n", p.Percent, p.Stage, p.Message)
		if pub != nil {
			if err := pub.Progress(runID, p); err != nil {
				log.Printf("dyncal: %v", err)
			}
		}
	})
	if err != nil {
		if path, werr := app.WritePartialResult(cfg.OutputDir, res, err); werr != nil {
			log.Printf("dyncal: %v", werr)
		} else if path != "" {
			fmt.Printf("partial results written to %s\n", path)
		}
		return err
	}

	path, err := app.WriteResult(cfg.OutputDir, res)
	if err != nil {
		return err
	}

	summary := app.Summarize(res)
	for _, axis := range observation.Axes {
		a, ok := summary.Axes[axis]
		if !ok {
			continue
		}
		if !a.Calibratable {
			fmt.Printf("%-8s not calibratable: %s\n", axis, a.Reason)
			continue
		}
		fmt.Printf("%-8s offset %+.3f°  std %.3f°  %d used, %d outliers  %s\n",
			axis, a.Mean, a.StdDev, a.Used, a.Outliers, a.Grade)
	}
	sources := make([]string, 0, len(res.Report.Sensors))
	for src := range res.Report.Sensors {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		a := res.Report.Sensors[src]
		fmt.Printf("sensor %s: %d epochs at %.2f Hz, quality %.2f (score %.2f)\n", src, a.Epochs, a.Rate, a.Overall, a.Score)
		for _, issue := range a.Issues {
			fmt.Printf("  %s\n", issue)
		}
	}
	fmt.Printf("results written to %s\n", path)

	if pub != nil {
		if err := pub.Result(res); err != nil {
			return err
		}
		if _, err := pub.Series(res); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
