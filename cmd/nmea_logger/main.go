// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/app"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "configuration file")
	out := flag.String("out", "", "log file (default <source>_<date>.nmea)")
	publish := flag.Bool("publish", false, "mirror every sentence to the sensor MQTT topic")
	flag.Parse()

	log.Println("starting dyncal NMEA logger")

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("%s_%s.nmea", cfg.SensorSource, time.Now().UTC().Format("20060102"))
	}

	if err := app.RunNMEALogger(cfg, path, *publish); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
