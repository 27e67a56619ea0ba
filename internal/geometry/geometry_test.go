package geometry

import (
	"math"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		antennas map[string]Vec3
		wantErr  bool
	}{
		{
			name: "valid triangle",
			ref:  "bow",
			antennas: map[string]Vec3{
				"bow": {0, 0, 10}, "port": {-5, -2, 11}, "stbd": {5, -2, 11},
			},
		},
		{
			name:     "too few",
			ref:      "a",
			antennas: map[string]Vec3{"a": {0, 0, 0}, "b": {1, 0, 0}},
			wantErr:  true,
		},
		{
			name: "missing reference",
			ref:  "mast",
			antennas: map[string]Vec3{
				"a": {0, 0, 0}, "b": {1, 0, 0}, "c": {0, 1, 0},
			},
			wantErr: true,
		},
		{
			name: "collinear",
			ref:  "a",
			antennas: map[string]Vec3{
				"a": {0, 0, 0}, "b": {1, 1, 1}, "c": {2, 2, 2},
			},
			wantErr: true,
		},
		{
			name: "coincident",
			ref:  "a",
			antennas: map[string]Vec3{
				"a": {1, 1, 1}, "b": {1, 1, 1}, "c": {1, 1, 1},
			},
			wantErr: true,
		},
		{
			name: "non-finite",
			ref:  "a",
			antennas: map[string]Vec3{
				"a": {0, 0, 0}, "b": {1, 0, 0}, "c": {0, math.NaN(), 0},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ref, tt.antennas)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLabelsAndRovers(t *testing.T) {
	g, err := New("bow", map[string]Vec3{
		"stbd": {5, -2, 11}, "bow": {0, 0, 10}, "port": {-5, -2, 11},
	})
	if err != nil {
		t.Fatal(err)
	}
	labels := g.Labels()
	want := []string{"bow", "port", "stbd"}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("Labels() = %v, want %v", labels, want)
		}
	}
	rovers := g.Rovers()
	if len(rovers) != 2 || rovers[0] != "port" || rovers[1] != "stbd" {
		t.Fatalf("Rovers() = %v", rovers)
	}
	if g.Len() != 3 || g.Reference() != "bow" {
		t.Fatalf("Len/Reference mismatch")
	}
}

func TestPlaneNormalPointsUp(t *testing.T) {
	g, err := New("a", map[string]Vec3{
		"a": {0, 0, 0}, "b": {1, 0, 0}, "c": {0, 1, 0}, "d": {1, 1, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	n := g.PlaneNormal()
	if !near(n.Z, 1, 1e-9) || !near(n.X, 0, 1e-9) || !near(n.Y, 0, 1e-9) {
		t.Fatalf("PlaneNormal() = %+v, want (0,0,1)", n)
	}
}

func TestPlaneNormalTilted(t *testing.T) {
	// Plane z = y (45 degrees about the X axis).
	g, err := New("a", map[string]Vec3{
		"a": {0, 0, 0}, "b": {1, 0, 0}, "c": {0, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	n := g.PlaneNormal()
	s := 1 / math.Sqrt2
	if !near(n.X, 0, 1e-9) || !near(n.Y, -s, 1e-9) || !near(n.Z, s, 1e-9) {
		t.Fatalf("PlaneNormal() = %+v", n)
	}
}

func TestHeadingBaseline(t *testing.T) {
	g, err := New("bow", map[string]Vec3{
		"bow": {0, 0, 10}, "port": {-5, -2, 11}, "stbd": {5, -2, 11},
	})
	if err != nil {
		t.Fatal(err)
	}
	b := g.HeadingBaseline()
	if !near(b.X, 0, 1e-9) || !near(b.Y, -2, 1e-9) || !near(b.Z, 1, 1e-9) {
		t.Fatalf("HeadingBaseline() = %+v", b)
	}
}

func TestHeadingBaselineFallback(t *testing.T) {
	// Rovers symmetric around the reference: centroid sits straight above it.
	g, err := New("ref", map[string]Vec3{
		"ref": {0, 0, 0}, "a": {0, 3, 1}, "b": {0, -3, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	b := g.HeadingBaseline()
	if math.Hypot(b.X, b.Y) < 1 {
		t.Fatalf("HeadingBaseline() = %+v has no horizontal extent", b)
	}
}

func TestVecOps(t *testing.T) {
	a := Vec3{1, 0, 0}
	b := Vec3{0, 1, 0}
	if c := a.Cross(b); c != (Vec3{0, 0, 1}) {
		t.Fatalf("Cross = %+v", c)
	}
	if d := a.Add(b).Sub(b); d != a {
		t.Fatalf("Add/Sub = %+v", d)
	}
	if n := (Vec3{3, 4, 0}).Norm(); n != 5 {
		t.Fatalf("Norm = %v", n)
	}
	if c := Centroid([]Vec3{{0, 0, 0}, {2, 4, 6}}); c != (Vec3{1, 2, 3}) {
		t.Fatalf("Centroid = %+v", c)
	}
}
