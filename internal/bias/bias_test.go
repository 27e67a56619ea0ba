package bias

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

func mustModel(t *testing.T, ref string, ant map[string]geometry.Vec3) *Model {
	t.Helper()
	g, err := geometry.New(ref, ant)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModel(g)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestZeroOnLevelShip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		ant := map[string]geometry.Vec3{}
		for _, l := range []string{"a", "b", "c", "d"} {
			ant[l] = geometry.Vec3{X: rng.NormFloat64() * 10, Y: rng.NormFloat64() * 40, Z: rng.NormFloat64() * 5}
		}
		g, err := geometry.New("a", ant)
		if err != nil {
			continue
		}
		m, err := NewModel(g)
		if err != nil {
			t.Fatal(err)
		}
		if b := m.At(0, 0); b.Heading != 0 || b.Pitch != 0 || b.Roll != 0 {
			t.Fatalf("geometry %d: level bias = %+v", i, b)
		}
	}
}

func TestHorizontalPlaneProjection(t *testing.T) {
	m := mustModel(t, "bow", map[string]geometry.Vec3{
		"bow": {X: 0, Y: 30, Z: 0}, "port": {X: -5, Y: 0, Z: 0}, "stbd": {X: 5, Y: 0, Z: 0},
	})

	// Pure pitch or pure roll is measured exactly by a level plane.
	for _, a := range []float64{-15, -5, 5, 15} {
		if b := m.At(a, 0); math.Abs(b.Pitch) > 1e-12 || math.Abs(b.Roll) > 1e-12 || math.Abs(b.Heading) > 1e-12 {
			t.Errorf("At(%v, 0) = %+v", a, b)
		}
		if b := m.At(0, a); math.Abs(b.Pitch) > 1e-12 || math.Abs(b.Roll) > 1e-12 {
			t.Errorf("At(0, %v) = %+v", a, b)
		}
	}

	// Combined tilt projects roll through the pitched plane.
	p, r := 10.0, 10.0
	want := orientation.Deg(math.Atan2(math.Sin(orientation.Rad(r)),
		math.Cos(orientation.Rad(p))*math.Cos(orientation.Rad(r)))) - r
	b := m.At(p, r)
	if math.Abs(b.Roll-want) > 1e-12 {
		t.Fatalf("roll bias = %v, want %v", b.Roll, want)
	}
	if b.Roll <= 0 || math.Abs(b.Pitch) > 1e-12 {
		t.Fatalf("bias = %+v", b)
	}
}

func TestHeadingBiasFromOffsetBaseline(t *testing.T) {
	// Baseline oblique to the bow: roll moves its azimuth.
	m := mustModel(t, "a", map[string]geometry.Vec3{
		"a": {X: 0, Y: 0, Z: 0}, "b": {X: 10, Y: 10, Z: 0}, "c": {X: -3, Y: 4, Z: 0},
	})
	if b := m.At(0, 10); math.Abs(b.Heading) < 1e-6 {
		t.Fatalf("roll did not bias an oblique baseline: %+v", b)
	}
}

func TestContinuity(t *testing.T) {
	m := mustModel(t, "bow", map[string]geometry.Vec3{
		"bow":  {X: -0.269, Y: -64.232, Z: 10.888},
		"port": {X: -9.347, Y: -27.956, Z: 13.491},
		"stbd": {X: 9.392, Y: -27.827, Z: 13.506},
	})
	const step = 0.05
	sweep := func(name string, at func(x float64) orientation.Attitude) {
		prev := at(-45)
		for x := -45 + step; x <= 45; x += step {
			b := at(x)
			if math.IsNaN(b.Heading) || math.IsNaN(b.Pitch) || math.IsNaN(b.Roll) {
				t.Fatalf("%s: NaN bias at %v", name, x)
			}
			if math.Abs(b.Heading-prev.Heading) > 0.5 || math.Abs(b.Pitch-prev.Pitch) > 0.5 || math.Abs(b.Roll-prev.Roll) > 0.5 {
				t.Fatalf("%s: jump at %v: %+v -> %+v", name, x, prev, b)
			}
			prev = b
		}
	}
	for _, fixed := range []float64{-20, 0, 12} {
		sweep("roll sweep", func(x float64) orientation.Attitude { return m.At(fixed, x) })
		sweep("pitch sweep", func(x float64) orientation.Attitude { return m.At(x, fixed) })
	}
}

func TestStatic(t *testing.T) {
	// Antenna plane raised 1 m per 10 m towards the bow.
	m := mustModel(t, "bow", map[string]geometry.Vec3{
		"bow": {X: 0, Y: 10, Z: 1}, "port": {X: -5, Y: 0, Z: 0}, "stbd": {X: 5, Y: 0, Z: 0},
	})
	s := m.Static()
	want := orientation.Deg(math.Atan(0.1))
	if math.Abs(s.Pitch-want) > 1e-9 || math.Abs(s.Roll) > 1e-9 {
		t.Fatalf("Static() = %+v, want pitch %v", s, want)
	}
	if math.Abs(math.Abs(s.Azimuth)-180) > 1e-9 {
		t.Fatalf("azimuth = %v, want ±180 (stern-wards baseline)", s.Azimuth)
	}
}

func TestSeries(t *testing.T) {
	m := mustModel(t, "bow", map[string]geometry.Vec3{
		"bow": {X: 0, Y: 30, Z: 0}, "port": {X: -5, Y: 0, Z: 0}, "stbd": {X: 5, Y: 0, Z: 0},
	})
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := []orientation.AttitudeSample{
		{Time: ts, Attitude: orientation.Attitude{Heading: 10}},
		{Time: ts.Add(time.Second), Attitude: orientation.Attitude{Heading: 10, Pitch: 10, Roll: 10}},
	}
	out := m.Series(in)
	if len(out) != 2 || !out[1].Time.Equal(in[1].Time) {
		t.Fatalf("Series() = %+v", out)
	}
	if out[0].Roll != 0 || out[1].Roll == 0 {
		t.Fatalf("Series() = %+v", out)
	}
}

func TestNewModelNil(t *testing.T) {
	if _, err := NewModel(nil); err == nil {
		t.Fatal("nil geometry accepted")
	}
}
