package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/gnss"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/timesync"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func shipGeometry(t *testing.T) *geometry.Geometry {
	t.Helper()
	g, err := geometry.New("bow", map[string]geometry.Vec3{
		"bow":  {X: -0.269, Y: -64.232, Z: 10.888},
		"port": {X: -9.347, Y: -27.956, Z: 13.491},
		"stbd": {X: 9.392, Y: -27.827, Z: 13.506},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// synth builds n seconds of baselines from the mock ship motion and a
// sensor whose heading reads 2° low, pitch 0.3° low and roll 0.1° high.
func synth(t *testing.T, g *geometry.Geometry, n int, headingSign float64) Inputs {
	t.Helper()
	src := orientation.NewMockSource(t0, time.Second)
	in := Inputs{Baselines: map[string][]gnss.PositionSample{}}
	for i := 0; i < n; i++ {
		a, err := src.Next()
		if err != nil {
			t.Fatal(err)
		}
		pos := orientation.Place(g, a.Attitude, geometry.Vec3{})
		for _, l := range g.Rovers() {
			in.Baselines[l] = append(in.Baselines[l], gnss.PositionSample{
				Time:     a.Time,
				ENH:      pos[l].Sub(pos[g.Reference()]),
				Quality:  gnss.QualityFix,
				StdDev3D: 0.01,
			})
		}
		in.Observations = append(in.Observations,
			observation.Observation{Time: a.Time, Axis: observation.Heading, Value: headingSign * (a.Heading - 2), Source: "octans"},
			observation.Observation{Time: a.Time, Axis: observation.Pitch, Value: a.Pitch - 0.3, Source: "octans"},
			observation.Observation{Time: a.Time, Axis: observation.Roll, Value: a.Roll + 0.1, Source: "octans"},
		)
	}
	return in
}

func TestRunEndToEnd(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	var stages []Stage
	report, err := e.Run(synth(t, g, 120, 1), func(p Progress) {
		stages = append(stages, p.Stage)
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []Stage{StageFilter, StageReconstruct, StageSolve, StageBias, StageSync, StageCalibrate}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}

	if report.Reconstruction.Epochs != 120 || report.Solve.Solved != 120 || report.Solve.Flagged != 0 {
		t.Fatalf("reconstruction %+v, solve %+v", report.Reconstruction, report.Solve)
	}
	if len(report.Attitude) != 120 || len(report.Bias) != 120 {
		t.Fatalf("attitude %d, bias %d", len(report.Attitude), len(report.Bias))
	}

	expect := map[observation.Axis]float64{observation.Heading: 2, observation.Pitch: 0.3, observation.Roll: -0.1}
	for axis, mean := range expect {
		res, ok := report.Axes[axis]
		if !ok || !res.Calibratable {
			t.Fatalf("%s: %+v", axis, res)
		}
		if math.Abs(res.Mean-mean) > 1e-6 {
			t.Errorf("%s mean = %v, want %v", axis, res.Mean, mean)
		}
		if report.Sync[axis].Paired != 120 {
			t.Errorf("%s sync = %+v", axis, report.Sync[axis])
		}
	}

	sensor, ok := report.Sensors["octans"]
	if !ok || len(report.Sensors) != 1 {
		t.Fatalf("sensors = %v", report.Sensors)
	}
	if sensor.Epochs != 120 || sensor.Completeness != 1 || sensor.Rate != 1 || len(sensor.Axes) != 3 {
		t.Errorf("octans assessment = %+v", sensor)
	}
	if sensor.MeanAttitude == nil {
		t.Error("octans mean attitude missing")
	}
}

func TestRunContextStopsBetweenStages(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stages []Stage
	report, err := e.RunContext(ctx, synth(t, g, 30, 1), func(p Progress) {
		stages = append(stages, p.Stage)
		if p.Stage == StageSolve {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(stages) != 3 || stages[2] != StageSolve {
		t.Fatalf("stages = %v", stages)
	}
	if len(report.Attitude) != 30 || len(report.Axes) != 0 || len(report.Bias) != 0 {
		t.Fatalf("report went past the solve stage: %d attitudes, %d bias, %d axes", len(report.Attitude), len(report.Bias), len(report.Axes))
	}
}

func TestRunContextAlreadyCancelled(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	report, err := e.RunContext(ctx, synth(t, g, 10, 1), func(Progress) { called = true })
	if !errors.Is(err, context.Canceled) || report == nil {
		t.Fatalf("report %v, err %v", report, err)
	}
	if called || len(report.Filter) != 0 {
		t.Fatalf("stages ran on a cancelled context: %+v", report.Filter)
	}
}

func TestRunSignConvention(t *testing.T) {
	g := shipGeometry(t)
	cfg := DefaultConfig()
	cfg.Convention = observation.Convention{HeadingSign: -1, PitchSign: 1, RollSign: 1}
	e, err := NewEngine(g, cfg)
	if err != nil {
		t.Fatal(err)
	}
	report, err := e.Run(synth(t, g, 30, -1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res := report.Axes[observation.Heading]; math.Abs(res.Mean-2) > 1e-6 {
		t.Fatalf("heading mean = %v, want 2", res.Mean)
	}
}

func TestRunTooFewPairs(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	report, err := e.Run(synth(t, g, 5, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := report.Axes[observation.Pitch]
	if res.Calibratable || res.Pairs != 5 || res.Reason == "" {
		t.Fatalf("pitch = %+v", res)
	}
}

func TestRunBaselineFailure(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	in := synth(t, g, 10, 1)
	stbd := in.Baselines["stbd"]
	stbd[0], stbd[1] = stbd[1], stbd[0]

	var stages []Stage
	report, err := e.Run(in, func(p Progress) { stages = append(stages, p.Stage) })
	if err == nil {
		t.Fatal("unsorted baseline accepted")
	}
	if _, ok := report.BaselineErrors["stbd"]; !ok {
		t.Fatalf("baseline errors = %v", report.BaselineErrors)
	}
	if st, ok := report.Filter["port"]; !ok || st.Kept != 10 {
		t.Fatalf("port filter result lost: %+v", report.Filter)
	}
	if len(stages) != 1 || stages[0] != StageFilter {
		t.Fatalf("stages = %v", stages)
	}
}

func TestRunMissingAndUnknownBaselines(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	in := synth(t, g, 10, 1)
	delete(in.Baselines, "port")
	in.Baselines["mast"] = nil

	report, err := e.Run(in, nil)
	if err == nil {
		t.Fatal("missing baseline accepted")
	}
	if len(report.BaselineErrors) != 2 {
		t.Fatalf("baseline errors = %v", report.BaselineErrors)
	}
}

func TestRunExcludeFlagged(t *testing.T) {
	g := shipGeometry(t)
	cfg := DefaultConfig()
	cfg.ExcludeFlagged = true
	cfg.Solver.MaxResidual = 0.01
	cfg.Sync.Target = timesync.TargetComputed
	e, err := NewEngine(g, cfg)
	if err != nil {
		t.Fatal(err)
	}
	in := synth(t, g, 20, 1)
	// Corrupt one epoch enough to raise the residual but keep the filter happy.
	in.Baselines["port"][4].ENH = in.Baselines["port"][4].ENH.Add(geometry.Vec3{Z: 0.5})

	report, err := e.Run(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Solve.HighResidual != 1 || report.Excluded != 1 {
		t.Fatalf("solve %+v excluded %d", report.Solve, report.Excluded)
	}
	if report.Sync[observation.Pitch].Paired != 19 {
		t.Fatalf("sync = %+v", report.Sync[observation.Pitch])
	}
}

func TestRunWithoutObservations(t *testing.T) {
	g := shipGeometry(t)
	e, err := NewEngine(g, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	in := synth(t, g, 10, 1)
	in.Observations = nil
	report, err := e.Run(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Attitude) != 10 || len(report.Axes) != 0 {
		t.Fatalf("attitude %d axes %d", len(report.Attitude), len(report.Axes))
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	g := shipGeometry(t)
	mutations := []func(*Config){
		func(c *Config) { c.Filter.MaxStdDev = 0 },
		func(c *Config) { c.Filter.Accepted = nil },
		func(c *Config) { c.Reconstruct.Tolerance = 0 },
		func(c *Config) { c.Solver.MaxResidual = -1 },
		func(c *Config) { c.Sync.MaxGap = 0 },
		func(c *Config) { c.Calibration.SigmaClip = 0 },
		func(c *Config) { c.Calibration.MinPairs = 0 },
		func(c *Config) { c.Convention.PitchSign = 0 },
		func(c *Config) { c.Workers = -1 },
	}
	for i, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewEngine(g, cfg); err == nil {
			t.Errorf("mutation %d accepted", i)
		}
	}
	if _, err := NewEngine(nil, DefaultConfig()); err == nil {
		t.Error("nil geometry accepted")
	}
}

func TestRunConcurrentEngines(t *testing.T) {
	g := shipGeometry(t)
	cfg := DefaultConfig()
	cfg.Workers = 1
	e, err := NewEngine(g, cfg)
	if err != nil {
		t.Fatal(err)
	}
	in := synth(t, g, 30, 1)

	done := make(chan *Report, 4)
	for i := 0; i < 4; i++ {
		go func() {
			r, err := e.Run(in, nil)
			if err != nil {
				t.Error(err)
			}
			done <- r
		}()
	}
	first := <-done
	for i := 1; i < 4; i++ {
		r := <-done
		if r == nil || first == nil {
			t.Fatal("run returned no report")
		}
		a, b := first.Axes[observation.Heading], r.Axes[observation.Heading]
		if a.Mean != b.Mean || a.Used != b.Used || len(r.Attitude) != 30 {
			t.Fatalf("runs disagree: %+v vs %+v", a, b)
		}
	}
}
