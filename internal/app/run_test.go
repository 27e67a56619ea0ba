package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
)

func simulated(t *testing.T, cfg *config.Config) RunRequest {
	t.Helper()
	opts := DefaultSimulateOptions()
	opts.Duration = 2 * time.Minute
	req, err := Simulate(cfg, t.TempDir(), opts)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestSimulateThenCalibrate(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	req := simulated(t, cfg)
	if len(req.Baselines) != 2 || len(req.Sensors) != 1 {
		t.Fatalf("request = %+v", req)
	}

	var stages []pipeline.Stage
	res, err := Calibrate(context.Background(), cfg, "run-0001", req, func(p pipeline.Progress) {
		stages = append(stages, p.Stage)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 6 || stages[5] != pipeline.StageCalibrate {
		t.Fatalf("stages = %v", stages)
	}
	if res.RunID != "run-0001" || res.Reference != "Bow" || len(res.Antennas) != 3 {
		t.Fatalf("result header = %+v", res)
	}
	if got := len(res.Report.Attitude); got != 120 {
		t.Fatalf("attitude samples = %d, want 120", got)
	}

	offset := DefaultSimulateOptions().Offset
	want := map[observation.Axis]float64{
		observation.Heading: offset.Heading,
		observation.Pitch:   offset.Pitch,
		observation.Roll:    offset.Roll,
	}
	for axis, mean := range want {
		a, ok := res.Report.Axes[axis]
		if !ok || !a.Calibratable {
			t.Fatalf("%s: %+v", axis, a)
		}
		if math.Abs(a.Mean-mean) > 0.05 {
			t.Errorf("%s offset = %.4f, want %.4f", axis, a.Mean, mean)
		}
	}

	path, err := WriteResult(cfg.OutputDir, res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(path), "dyncal_") || !strings.HasSuffix(path, "_run-0001.json") {
		t.Errorf("result file name %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.RunID != res.RunID || back.Version != ResultVersion || len(back.Report.Attitude) != 120 {
		t.Errorf("read back %+v", back.RunID)
	}
}

func TestSimulateHonoursSignConvention(t *testing.T) {
	cfg := config.Default()
	cfg.SensorConvention = observation.Convention{HeadingSign: 1, PitchSign: -1, RollSign: -1}
	req := simulated(t, cfg)

	res, err := Calibrate(context.Background(), cfg, NewRunID(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a := res.Report.Axes[observation.Roll]; math.Abs(a.Mean-DefaultSimulateOptions().Offset.Roll) > 0.05 {
		t.Fatalf("roll offset = %v", a.Mean)
	}
}

func TestCalibrateAttitudeOnly(t *testing.T) {
	cfg := config.Default()
	req := simulated(t, cfg)
	req.Sensors = nil

	res, err := Calibrate(context.Background(), cfg, NewRunID(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Report.Axes) != 0 || len(res.Report.Bias) != 120 {
		t.Fatalf("axes %d, bias %d", len(res.Report.Axes), len(res.Report.Bias))
	}

	var sb strings.Builder
	if err := WriteAttitudeCSV(&sb, res.Report); err != nil {
		t.Fatal(err)
	}
	r := csv.NewReader(strings.NewReader(sb.String()))
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 121 || rows[0][0] != "Time" || rows[1][5] != "ok" {
		t.Fatalf("csv has %d rows, first %v", len(rows), rows[:2])
	}
}

func TestCalibrateErrors(t *testing.T) {
	cfg := config.Default()
	req := simulated(t, cfg)

	missing := RunRequest{Baselines: map[string]string{"Port": filepath.Join(t.TempDir(), "nope.pos")}}
	if _, err := Calibrate(context.Background(), cfg, NewRunID(), missing, nil); err == nil {
		t.Error("missing file accepted")
	}

	delete(req.Baselines, "Stbd")
	res, err := Calibrate(context.Background(), cfg, NewRunID(), req, nil)
	if err == nil {
		t.Fatal("missing rover accepted")
	}
	if res == nil || res.Report == nil || res.Report.BaselineErrors["Stbd"] == "" {
		t.Fatalf("partial report = %+v", res)
	}

	dir := t.TempDir()
	file, werr := WritePartialResult(dir, res, err)
	if werr != nil || file == "" {
		t.Fatalf("WritePartialResult() = %q, %v", file, werr)
	}
	b, rerr := os.ReadFile(file)
	if rerr != nil {
		t.Fatal(rerr)
	}
	var saved Result
	if err := json.Unmarshal(b, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Error != err.Error() || saved.Report == nil || saved.Report.BaselineErrors["Stbd"] == "" {
		t.Fatalf("saved partial result = %+v", saved)
	}

	if file, werr := WritePartialResult(dir, nil, err); file != "" || werr != nil {
		t.Fatalf("WritePartialResult(nil) = %q, %v", file, werr)
	}
}

func TestCalibrateCancelled(t *testing.T) {
	cfg := config.Default()
	req := simulated(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var stages []pipeline.Stage
	res, err := Calibrate(ctx, cfg, NewRunID(), req, func(p pipeline.Progress) {
		stages = append(stages, p.Stage)
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(stages) != 1 || res == nil || res.Report == nil || len(res.Report.Filter) != 2 {
		t.Fatalf("stages %v, result %+v", stages, res)
	}
}

func TestBaselineFiles(t *testing.T) {
	cfg := config.Default()
	got, err := BaselineFiles(cfg, []string{"Port=a.pos", "Stbd=/data/b.pos"})
	if err != nil {
		t.Fatal(err)
	}
	if got["Port"] != "a.pos" || got["Stbd"] != "/data/b.pos" {
		t.Fatalf("got %v", got)
	}
	for _, bad := range []string{"Port", "=a.pos", "Port=", "Mast=a.pos"} {
		if _, err := BaselineFiles(cfg, []string{bad}); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestSimulateRejectsEmptyRun(t *testing.T) {
	opts := DefaultSimulateOptions()
	opts.Duration = 0
	if _, err := Simulate(config.Default(), t.TempDir(), opts); err == nil {
		t.Fatal("zero duration accepted")
	}
}
