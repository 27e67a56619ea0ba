// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gnss

import (
	"fmt"
	"math"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
)

// PositionSample is one epoch of a baseline solution: the ENU offset of a
// rover antenna from the reference antenna.
type PositionSample struct {
	Time     time.Time     `json:"time"`
	ENH      geometry.Vec3 `json:"enh"`
	Quality  Quality       `json:"quality"`
	StdDev3D float64       `json:"sd3d"` // meters
}

// StdDev3D combines per-axis standard deviations into the 3-D figure used by
// the quality filter.
func StdDev3D(sde, sdn, sdu float64) float64 {
	return math.Sqrt(sde*sde + sdn*sdn + sdu*sdu)
}

// CheckSorted returns an error if samples are not in non-decreasing time
// order.
func CheckSorted(samples []PositionSample) error {
	for i := 1; i < len(samples); i++ {
		if samples[i].Time.Before(samples[i-1].Time) {
			return fmt.Errorf("sample %d (%s) is earlier than sample %d (%s)",
				i, samples[i].Time.Format(time.RFC3339Nano), i-1, samples[i-1].Time.Format(time.RFC3339Nano))
		}
	}
	return nil
}
