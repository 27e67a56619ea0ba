// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
)

// CaptureStats counts what a capture saw on the wire.
type CaptureStats struct {
	Lines   int
	Logged  int
	Invalid int // partial sentences, checksum errors, unknown types
}

// Capture reads NMEA sentences from r until EOF and writes every valid one
// to w with the time it arrived. forward, when set, gets each logged line.
func Capture(r io.Reader, w io.Writer, now func() time.Time, forward func(line string)) (CaptureStats, error) {
	var stats CaptureStats
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("nmea read error: %w", err)
		}
		eof := err != nil

		line = strings.TrimSpace(line)
		if line != "" {
			stats.Lines++
			if strings.HasPrefix(line, "$") {
				if _, perr := nmea.Parse(line); perr == nil {
					out := observation.FormatLogLine(now(), line)
					if _, werr := fmt.Fprintln(w, out); werr != nil {
						return stats, werr
					}
					stats.Logged++
					if forward != nil {
						forward(out)
					}
				} else {
					stats.Invalid++
				}
			} else {
				stats.Invalid++
			}
		}

		if eof {
			return stats, nil
		}
	}
}

// RunNMEALogger records the attitude sensor's serial output to outPath,
// appending, and mirrors each line to the sensor topic when publish is set.
func RunNMEALogger(cfg *config.Config, outPath string, publish bool) error {
	var forward func(string)
	if publish {
		client, err := ConnectMQTT(cfg, cfg.MQTTClientIDLogger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		forward = func(line string) {
			token := client.Publish(cfg.TopicSensor, 0, false, line)
			token.Wait()
			if token.Error() != nil {
				log.Printf("nmea logger: publish error: %v", token.Error())
			}
		}
	}

	serialOpts := serial.OpenOptions{
		PortName:              cfg.SensorSerialPort,
		BaudRate:              uint(cfg.SensorBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Printf("nmea logger: serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	log.Printf("nmea logger: writing to %s", outPath)

	stats, err := Capture(port, f, time.Now, forward)
	log.Printf("nmea logger: %d lines, %d logged, %d invalid", stats.Lines, stats.Logged, stats.Invalid)
	return err
}
