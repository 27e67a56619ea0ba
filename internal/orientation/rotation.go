// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
)

// gimbalTol is the value of cos(pitch) below which roll and heading can no
// longer be separated.
const gimbalTol = 1e-6

// Rotation returns the matrix taking ship-frame vectors (starboard, bow, up)
// to East-North-Up:
//
//	R = Rz(-heading) · Rx(pitch) · Ry(roll)
func Rotation(a Attitude) *mat.Dense {
	sh, ch := math.Sincos(Rad(a.Heading))
	sp, cp := math.Sincos(Rad(a.Pitch))
	sr, cr := math.Sincos(Rad(a.Roll))

	return mat.NewDense(3, 3, []float64{
		ch*cr + sh*sp*sr, sh * cp, ch*sr - sh*sp*cr,
		-sh*cr + ch*sp*sr, ch * cp, -sh*sr - ch*sp*cr,
		-cp * sr, sp, cp * cr,
	})
}

// EulerFromRotation decomposes a ship-to-ENU rotation into heading, pitch
// and roll. The second return value is true at gimbal lock, where roll is
// set to 0 and the heading comes from the first column.
func EulerFromRotation(r mat.Matrix) (Attitude, bool) {
	sp := math.Max(-1, math.Min(1, r.At(2, 1)))
	pitch := math.Asin(sp)

	if math.Hypot(r.At(2, 0), r.At(2, 2)) < gimbalTol {
		return Attitude{
			Heading: NormalizeHeading(Deg(math.Atan2(-r.At(1, 0), r.At(0, 0)))),
			Pitch:   Deg(pitch),
		}, true
	}

	return Attitude{
		Heading: NormalizeHeading(Deg(math.Atan2(r.At(0, 1), r.At(1, 1)))),
		Pitch:   Deg(pitch),
		Roll:    Deg(math.Atan2(-r.At(2, 0), r.At(2, 2))),
	}, false
}

// Apply rotates v by r.
func Apply(r mat.Matrix, v geometry.Vec3) geometry.Vec3 {
	return geometry.Vec3{
		X: r.At(0, 0)*v.X + r.At(0, 1)*v.Y + r.At(0, 2)*v.Z,
		Y: r.At(1, 0)*v.X + r.At(1, 1)*v.Y + r.At(1, 2)*v.Z,
		Z: r.At(2, 0)*v.X + r.At(2, 1)*v.Y + r.At(2, 2)*v.Z,
	}
}

// Place returns the ENU position of every antenna of g for a ship at the
// given attitude whose reference antenna sits at origin.
func Place(g *geometry.Geometry, a Attitude, origin geometry.Vec3) map[string]geometry.Vec3 {
	r := Rotation(a)
	ref, _ := g.Position(g.Reference())
	out := make(map[string]geometry.Vec3, g.Len())
	for _, l := range g.Labels() {
		p, _ := g.Position(l)
		out[l] = origin.Add(Apply(r, p.Sub(ref)))
	}
	return out
}
