// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package observation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// LogStats counts the lines of a sensor log.
type LogStats struct {
	Lines       int `json:"lines"`
	Sentences   int `json:"sentences"`   // sentences that yielded observations
	Unsupported int `json:"unsupported"` // valid NMEA of a type we do not use
	Invalid     int `json:"invalid"`     // checksum or syntax errors
	Untimed     int `json:"untimed"`     // lines without a leading timestamp
}

// FormatLogLine renders one timestamped sentence the way ReadNMEALog reads it.
func FormatLogLine(t time.Time, sentence string) string {
	return t.UTC().Format(time.RFC3339Nano) + " " + strings.TrimSpace(sentence)
}

// ReadNMEALog reads a timestamped NMEA capture. Each line is
//
//	<RFC3339 time> <NMEA sentence>
//
// HDT sentences give heading, PRDID sentences give pitch, roll and heading.
// Other sentences and corrupt lines are counted and skipped.
func ReadNMEALog(r io.Reader, source string) ([]Observation, LogStats, error) {
	var (
		out   []Observation
		stats LogStats
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++

		stamp, raw, ok := strings.Cut(line, " ")
		if !ok {
			stats.Untimed++
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			stats.Untimed++
			continue
		}

		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, "$") {
			stats.Invalid++
			continue
		}
		sentence, err := nmea.Parse(raw)
		if err != nil {
			stats.Invalid++
			continue
		}

		switch sentence.DataType() {
		case nmea.TypeHDT:
			m := sentence.(nmea.HDT)
			out = append(out, Observation{Time: t, Value: m.Heading, Axis: Heading, Source: source})
		case nmea.TypePRDID:
			m := sentence.(nmea.PRDID)
			out = append(out,
				Observation{Time: t, Value: m.Pitch, Axis: Pitch, Source: source},
				Observation{Time: t, Value: m.Roll, Axis: Roll, Source: source},
				Observation{Time: t, Value: m.Heading, Axis: Heading, Source: source},
			)
		default:
			stats.Unsupported++
			continue
		}
		stats.Sentences++
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("read nmea log: %w", err)
	}
	return out, stats, nil
}

// LoadNMEALog opens path and reads it with ReadNMEALog.
func LoadNMEALog(path, source string) ([]Observation, LogStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LogStats{}, fmt.Errorf("failed to open sensor log: %w", err)
	}
	defer f.Close()
	return ReadNMEALog(f, source)
}
