// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gnss

import (
	"fmt"
	"strconv"
	"strings"
)

// Quality is the solution type reported by the positioning engine. Values
// follow the RTKLIB Q column.
type Quality int

const (
	QualityNone   Quality = 0
	QualityFix    Quality = 1
	QualityFloat  Quality = 2
	QualitySBAS   Quality = 3
	QualityDGPS   Quality = 4
	QualitySingle Quality = 5
	QualityPPP    Quality = 6
)

var qualityNames = map[Quality]string{
	QualityNone:   "NONE",
	QualityFix:    "FIX",
	QualityFloat:  "FLOAT",
	QualitySBAS:   "SBAS",
	QualityDGPS:   "DGPS",
	QualitySingle: "SPP",
	QualityPPP:    "PPP",
}

func (q Quality) String() string {
	if s, ok := qualityNames[q]; ok {
		return s
	}
	return fmt.Sprintf("Q%d", int(q))
}

func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func (q *Quality) UnmarshalText(b []byte) error {
	v, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ParseQuality accepts a quality name (FIX, FLOAT, SPP, SINGLE, ...) or the
// numeric RTKLIB code.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "SINGLE" {
		return QualitySingle, nil
	}
	for q, name := range qualityNames {
		if name == s {
			return q, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > int(QualityPPP) {
		return QualityNone, fmt.Errorf("unknown solution quality %q", s)
	}
	return Quality(n), nil
}

// ParseQualitySet parses a comma separated list such as "FIX,FLOAT".
func ParseQualitySet(s string) ([]Quality, error) {
	var out []Quality
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		q, err := ParseQuality(part)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty quality set %q", s)
	}
	return out, nil
}
