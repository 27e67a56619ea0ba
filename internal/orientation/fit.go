// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
)

var (
	// ErrInsufficientPoints is returned when fewer than two antennas are
	// available for a fit.
	ErrInsufficientPoints = errors.New("at least two antenna positions are required")
	// ErrDegenerate is returned when all points coincide.
	ErrDegenerate = errors.New("antenna positions are degenerate")
)

// FitResult is the rigid transform q ≈ R·p + T.
type FitResult struct {
	R *mat.Dense
	T geometry.Vec3
	// Residual is the RMS distance between R·p + T and q over the real
	// (non-virtual) points.
	Residual float64
	// Condition is s2/s1 of the cross-covariance matrix; near zero when
	// the points are close to a line.
	Condition float64
	// Constrained is set when a virtual vertical point was added.
	Constrained bool
}

// Fit finds the proper rotation and translation that best map the ship
// frame points onto the measured ENU points in the least-squares sense
// (Kabsch). With exactly two points the vertical axes of both frames are
// assumed to agree and a virtual point is added along them.
func Fit(ship, enu []geometry.Vec3) (FitResult, error) {
	if len(ship) != len(enu) {
		return FitResult{}, fmt.Errorf("fit: %d ship points but %d measured points", len(ship), len(enu))
	}
	n := len(ship)
	if n < 2 {
		return FitResult{}, ErrInsufficientPoints
	}

	p, q := ship, enu
	constrained := false
	if n == 2 {
		l := ship[1].Sub(ship[0]).Norm()
		up := geometry.Vec3{Z: l}
		p = append([]geometry.Vec3{geometry.Centroid(ship).Add(up)}, ship...)
		q = append([]geometry.Vec3{geometry.Centroid(enu).Add(up)}, enu...)
		constrained = true
	}

	pc := geometry.Centroid(p)
	qc := geometry.Centroid(q)

	// H = Σ (p_i - p̄)(q_i - q̄)ᵀ
	h := mat.NewDense(3, 3, nil)
	for i := range p {
		a := p[i].Sub(pc)
		b := q[i].Sub(qc)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+av[r]*bv[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return FitResult{}, fmt.Errorf("fit: SVD did not converge")
	}
	s := svd.Values(nil)
	if s[0] == 0 {
		return FitResult{}, ErrDegenerate
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rot := mat.NewDense(3, 3, nil)
	rot.Mul(&v, u.T())
	if mat.Det(rot) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(&v, u.T())
	}

	t := qc.Sub(Apply(rot, pc))

	var sum float64
	for i := range ship {
		d := Apply(rot, ship[i]).Add(t).Sub(enu[i])
		sum += d.Dot(d)
	}

	return FitResult{
		R:           rot,
		T:           t,
		Residual:    math.Sqrt(sum / float64(n)),
		Condition:   s[1] / s[0],
		Constrained: constrained,
	}, nil
}
