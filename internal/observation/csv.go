// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package observation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"02/01/2006 15:04:05.999999999",
}

// ReadCSV reads a ';' separated sensor export. The header must contain a
// Time column and any of Heading, Pitch and Roll (case-insensitive, "yaw"
// accepted for heading). Empty cells are skipped.
func ReadCSV(r io.Reader, source string) ([]Observation, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	timeCol := -1
	type axisCol struct {
		col  int
		axis Axis
	}
	var axisCols []axisCol
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "time" || name == "timestamp" {
			timeCol = i
			continue
		}
		if a, err := ParseAxis(name); err == nil {
			axisCols = append(axisCols, axisCol{i, a})
		}
	}
	if timeCol < 0 {
		return nil, fmt.Errorf("csv header has no time column")
	}
	if len(axisCols) == 0 {
		return nil, fmt.Errorf("csv header has no heading, pitch or roll column")
	}

	var out []Observation
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		if timeCol >= len(rec) {
			return nil, fmt.Errorf("csv row %d: missing time", row)
		}
		t, err := parseCSVTime(rec[timeCol])
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		for _, c := range axisCols {
			if c.col >= len(rec) || strings.TrimSpace(rec[c.col]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(rec[c.col]), ",", "."), 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d %s: %w", row, c.axis, err)
			}
			out = append(out, Observation{Time: t, Value: v, Axis: c.axis, Source: source})
		}
	}
	return out, nil
}

// LoadCSV opens path and reads it with ReadCSV.
func LoadCSV(path, source string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, source)
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// Load reads a sensor file, choosing the CSV reader for .csv files and the
// NMEA log reader otherwise.
func Load(path, source string) ([]Observation, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return LoadCSV(path, source)
	}
	obs, stats, err := LoadNMEALog(path, source)
	if err != nil {
		return nil, err
	}
	if stats.Invalid > 0 || stats.Untimed > 0 {
		log.Printf("observation: %s: %d invalid and %d untimed lines skipped", path, stats.Invalid, stats.Untimed)
	}
	return obs, nil
}
