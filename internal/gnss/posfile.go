// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gnss

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
)

// GPS time started at 1980-01-06 00:00:00 and does not count leap seconds.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// PosOptions controls how an RTKLIB .pos file is read.
type PosOptions struct {
	// TimeOffset is added to every timestamp. Use -18s to turn GPST
	// stamps into UTC.
	TimeOffset time.Duration
}

// ReadPosFile reads an RTKLIB ENU baseline solution. Each data row holds
//
//	date time e n u Q ns sde sdn sdu sden sdnu sdue age ratio
//
// where the date/time pair is either "yyyy/mm/dd hh:mm:ss.sss" or
// "week tow". Lines starting with '%' are headers.
func ReadPosFile(r io.Reader, opts PosOptions) ([]PositionSample, error) {
	var out []PositionSample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		s, err := parsePosLine(line)
		if err != nil {
			return nil, fmt.Errorf("pos line %d: %w", lineNo, err)
		}
		s.Time = s.Time.Add(opts.TimeOffset)
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pos: %w", err)
	}
	return out, nil
}

// LoadPosFile opens path and reads it with ReadPosFile.
func LoadPosFile(path string, opts PosOptions) ([]PositionSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pos file: %w", err)
	}
	defer f.Close()

	samples, err := ReadPosFile(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// PosHeader is the column header written by WritePosFile.
const PosHeader = "%  GPST                  e-baseline(m)  n-baseline(m)  u-baseline(m)   Q  ns   sde(m)   sdn(m)   sdu(m)  sden(m)  sdnu(m)  sdue(m) age(s)  ratio"

// FormatPosLine renders one sample as a .pos data row. The 3D deviation is
// split evenly over the three axes.
func FormatPosLine(s PositionSample) string {
	sd := s.StdDev3D / math.Sqrt(3)
	return fmt.Sprintf("%s %14.4f %14.4f %14.4f %3d %3d %8.4f %8.4f %8.4f %8.4f %8.4f %8.4f %6.2f %6.1f",
		s.Time.UTC().Format("2006/01/02 15:04:05.000"),
		s.ENH.X, s.ENH.Y, s.ENH.Z, int(s.Quality), 0, sd, sd, sd, 0.0, 0.0, 0.0, 0.0, 0.0)
}

// WritePosFile writes samples with a header in the layout ReadPosFile reads.
func WritePosFile(w io.Writer, samples []PositionSample) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, PosHeader); err != nil {
		return err
	}
	for _, s := range samples {
		if _, err := fmt.Fprintln(bw, FormatPosLine(s)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func parsePosLine(line string) (PositionSample, error) {
	f := strings.Fields(line)
	if len(f) < 10 {
		return PositionSample{}, fmt.Errorf("expected at least 10 columns, got %d", len(f))
	}

	t, err := parsePosTime(f[0], f[1])
	if err != nil {
		return PositionSample{}, err
	}

	var v [8]float64 // e n u Q ns sde sdn sdu
	for i := range v {
		v[i], err = strconv.ParseFloat(f[2+i], 64)
		if err != nil {
			return PositionSample{}, fmt.Errorf("column %d: %w", 3+i, err)
		}
	}

	return PositionSample{
		Time:     t,
		ENH:      geometry.Vec3{X: v[0], Y: v[1], Z: v[2]},
		Quality:  Quality(int(v[3])),
		StdDev3D: StdDev3D(v[5], v[6], v[7]),
	}, nil
}

func parsePosTime(date, clock string) (time.Time, error) {
	if strings.Contains(date, "/") {
		t, err := time.Parse("2006/01/02 15:04:05.999999999", date+" "+clock)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %q %q: %w", date, clock, err)
		}
		return t, nil
	}

	week, err := strconv.Atoi(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad gps week %q: %w", date, err)
	}
	tow, err := strconv.ParseFloat(clock, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time of week %q: %w", clock, err)
	}
	return gpsEpoch.Add(time.Duration(week) * 7 * 24 * time.Hour).
		Add(time.Duration(tow * float64(time.Second))), nil
}
