// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Quaternion returns the unit quaternion of Rotation(a):
//
//	q = qz(-heading) · qx(pitch) · qy(roll)
func Quaternion(a Attitude) quat.Number {
	sh, ch := math.Sincos(-Rad(a.Heading) / 2)
	sp, cp := math.Sincos(Rad(a.Pitch) / 2)
	sr, cr := math.Sincos(Rad(a.Roll) / 2)

	qz := quat.Number{Real: ch, Kmag: sh}
	qx := quat.Number{Real: cp, Imag: sp}
	qy := quat.Number{Real: cr, Jmag: sr}
	return quat.Mul(quat.Mul(qz, qx), qy)
}

// RotationFromQuaternion returns the rotation matrix of q, which is
// normalized first.
func RotationFromQuaternion(q quat.Number) *mat.Dense {
	q = quat.Scale(1/quat.Abs(q), q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// MeanAttitude averages the rotations of attitudes: the quaternions are
// brought into one hemisphere, summed and normalized. It returns false when
// fewer than two attitudes are given or they cancel out.
func MeanAttitude(attitudes []Attitude) (Attitude, bool) {
	if len(attitudes) < 2 {
		return Attitude{}, false
	}
	first := Quaternion(attitudes[0])
	var sum quat.Number
	for _, a := range attitudes {
		q := Quaternion(a)
		if dot(q, first) < 0 {
			q = quat.Scale(-1, q)
		}
		sum = quat.Add(sum, q)
	}
	if quat.Abs(sum) < 1e-12 {
		return Attitude{}, false
	}
	mean, _ := EulerFromRotation(RotationFromQuaternion(sum))
	return mean, true
}

func dot(p, q quat.Number) float64 {
	return p.Real*q.Real + p.Imag*q.Imag + p.Jmag*q.Jmag + p.Kmag*q.Kmag
}
