// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
	step  time.Duration
	n     int
}

// NewMockSource creates a mock attitude source that generates smooth ship
// motion: a slow turn with swell-like pitch and roll, one sample per step.
func NewMockSource(start time.Time, step time.Duration) Source {
	return &mockSource{start: start, step: step}
}

func (m *mockSource) Next() (AttitudeSample, error) {
	t := m.start.Add(time.Duration(m.n) * m.step)
	m.n++
	elapsed := t.Sub(m.start).Seconds()

	return AttitudeSample{
		Time: t,
		Attitude: Attitude{
			Heading: NormalizeHeading(elapsed * 0.5),
			Pitch:   2 * math.Cos(elapsed*0.7),
			Roll:    5 * math.Sin(elapsed*0.4),
		},
	}, nil
}
