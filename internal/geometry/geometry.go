// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// MinAntennas is the smallest antenna set that fixes all three attitude angles.
const MinAntennas = 3

// collinearTol is the ratio of the second to the first singular value of the
// centred antenna cloud below which the layout is treated as a line.
const collinearTol = 1e-6

// Geometry holds the antenna positions measured in the ship frame and the
// label of the reference antenna. It is immutable once built by New and can
// be shared between goroutines.
type Geometry struct {
	reference string
	labels    []string
	positions map[string]Vec3
	normal    Vec3
}

// New validates an antenna layout. It needs at least three antennas that do
// not lie on a single line, finite coordinates and a reference label that is
// part of the set.
func New(reference string, antennas map[string]Vec3) (*Geometry, error) {
	if len(antennas) < MinAntennas {
		return nil, fmt.Errorf("geometry: need at least %d antennas, got %d", MinAntennas, len(antennas))
	}
	if _, ok := antennas[reference]; !ok {
		return nil, fmt.Errorf("geometry: reference antenna %q is not in the antenna set", reference)
	}

	g := &Geometry{
		reference: reference,
		positions: make(map[string]Vec3, len(antennas)),
	}
	for label, p := range antennas {
		if label == "" {
			return nil, fmt.Errorf("geometry: empty antenna label")
		}
		if !p.IsFinite() {
			return nil, fmt.Errorf("geometry: antenna %q has non-finite coordinates", label)
		}
		g.positions[label] = p
		g.labels = append(g.labels, label)
	}
	sort.Strings(g.labels)

	normal, err := fitPlane(g.Positions(g.labels))
	if err != nil {
		return nil, err
	}
	g.normal = normal
	return g, nil
}

// fitPlane returns the least-squares normal of pts, oriented so that its Z
// component is not negative. It fails when the points are coincident or
// collinear.
func fitPlane(pts []Vec3) (Vec3, error) {
	c := Centroid(pts)
	a := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := p.Sub(c)
		a.SetRow(i, []float64{d.X, d.Y, d.Z})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Vec3{}, fmt.Errorf("geometry: SVD of antenna layout did not converge")
	}
	s := svd.Values(nil)
	if s[0] == 0 {
		return Vec3{}, fmt.Errorf("geometry: antennas are coincident")
	}
	if s[1]/s[0] < collinearTol {
		return Vec3{}, fmt.Errorf("geometry: antennas are collinear")
	}

	var v mat.Dense
	svd.VTo(&v)
	n := Vec3{v.At(0, 2), v.At(1, 2), v.At(2, 2)}
	if n.Z < 0 {
		n = n.Scale(-1)
	}
	return n.Scale(1 / n.Norm()), nil
}

// Reference returns the label of the reference antenna.
func (g *Geometry) Reference() string { return g.reference }

// Labels returns all antenna labels in sorted order.
func (g *Geometry) Labels() []string {
	out := make([]string, len(g.labels))
	copy(out, g.labels)
	return out
}

// Rovers returns the sorted labels of every antenna except the reference.
func (g *Geometry) Rovers() []string {
	out := make([]string, 0, len(g.labels)-1)
	for _, l := range g.labels {
		if l != g.reference {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of antennas.
func (g *Geometry) Len() int { return len(g.labels) }

// Position returns the ship-frame position of an antenna.
func (g *Geometry) Position(label string) (Vec3, bool) {
	p, ok := g.positions[label]
	return p, ok
}

// Positions returns the ship-frame positions for labels, in the same order.
// Unknown labels yield the zero vector.
func (g *Geometry) Positions(labels []string) []Vec3 {
	out := make([]Vec3, len(labels))
	for i, l := range labels {
		out[i] = g.positions[l]
	}
	return out
}

// PlaneNormal returns the unit normal of the least-squares antenna plane,
// pointing up in the ship frame.
func (g *Geometry) PlaneNormal() Vec3 { return g.normal }

// HeadingBaseline returns the vector used as the fore-aft reference of the
// layout: from the reference antenna to the centroid of the other antennas.
// If that vector has no horizontal extent the rover with the largest
// horizontal offset is used instead.
func (g *Geometry) HeadingBaseline() Vec3 {
	ref := g.positions[g.reference]
	rovers := g.Rovers()
	b := Centroid(g.Positions(rovers)).Sub(ref)
	if math.Hypot(b.X, b.Y) > 1e-9 {
		return b
	}
	best := 0.0
	for _, l := range rovers {
		d := g.positions[l].Sub(ref)
		if h := math.Hypot(d.X, d.Y); h > best {
			best = h
			b = d
		}
	}
	return b
}

// Span returns the largest distance between the reference antenna and any
// other antenna.
func (g *Geometry) Span() float64 {
	ref := g.positions[g.reference]
	span := 0.0
	for _, l := range g.labels {
		if d := g.positions[l].Sub(ref).Norm(); d > span {
			span = d
		}
	}
	return span
}
