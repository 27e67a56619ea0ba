// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/calibration"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/gnss"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/reconstruct"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/timesync"
)

// DefaultPath is where the tools look for their configuration file.
const DefaultPath = "dyncal_config.txt"

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDCalibrate string
	MQTTClientIDConsole   string
	MQTTClientIDWeb       string
	MQTTClientIDLogger    string
	MQTTPublishRate       int // series messages per second

	// Topics
	TopicResult   string
	TopicAttitude string
	TopicBias     string
	TopicProgress string
	TopicSensor   string

	// Antenna geometry, ship frame: X starboard, Y bow, Z up (meters)
	Antennas         map[string]geometry.Vec3
	ReferenceAntenna string
	ReferenceOrigin  geometry.Vec3

	// Position input
	PosTimeOffset   time.Duration // added to every .pos timestamp (-18s for GPST to UTC)
	MaxStdDev       float64       // meters
	AcceptedQuality []gnss.Quality
	EpochTolerance  time.Duration

	// Attitude solver
	MaxResidual    float64 // meters
	ConditionFloor float64
	ExcludeFlagged bool

	// Synchronization and calibration
	SyncMaxGap    time.Duration
	SyncTarget    timesync.Target
	SigmaClip     float64
	MaxIterations int
	MinPairs      int
	Workers       int

	// Sensor
	SensorSource     string
	SensorConvention observation.Convention
	SensorSerialPort string
	SensorBaudRate   int

	// Web Server
	WebServerPort int

	// Output
	OutputDir string
}

// Default returns a configuration with every value set to its default. The
// antenna layout is the survey vessel's Bow/Port/Stbd installation.
func Default() *Config {
	return &Config{
		MQTTBroker:            "tcp://localhost:1883",
		MQTTClientIDCalibrate: "dyncal-calibrate",
		MQTTClientIDConsole:   "dyncal-console",
		MQTTClientIDWeb:       "dyncal-web",
		MQTTClientIDLogger:    "dyncal-nmea-logger",
		MQTTPublishRate:       50,

		TopicResult:   "dyncal/result",
		TopicAttitude: "dyncal/attitude",
		TopicBias:     "dyncal/bias",
		TopicProgress: "dyncal/progress",
		TopicSensor:   "dyncal/sensor/raw",

		Antennas: map[string]geometry.Vec3{
			"Bow":  {X: -0.269, Y: -64.232, Z: 10.888},
			"Port": {X: -9.347, Y: -27.956, Z: 13.491},
			"Stbd": {X: 9.392, Y: -27.827, Z: 13.506},
		},
		ReferenceAntenna: "Bow",

		MaxStdDev:       gnss.DefaultMaxStdDev,
		AcceptedQuality: append([]gnss.Quality(nil), gnss.DefaultAccepted...),
		EpochTolerance:  reconstruct.DefaultTolerance,

		MaxResidual:    orientation.DefaultMaxResidual,
		ConditionFloor: orientation.DefaultConditionFloor,

		SyncMaxGap:    timesync.DefaultMaxGap,
		SyncTarget:    timesync.TargetAuto,
		SigmaClip:     calibration.DefaultSigmaClip,
		MaxIterations: calibration.DefaultMaxIterations,
		MinPairs:      calibration.DefaultMinPairs,

		SensorSource:     "sensor",
		SensorConvention: observation.Native,
		SensorSerialPort: "/dev/ttyUSB0",
		SensorBaudRate:   4800,

		WebServerPort: 8080,
		OutputDir:     ".",
	}
}

// Load reads the configuration file on top of the defaults. The first
// ANTENNA_<LABEL> line replaces the default antenna layout.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	customAntennas := false
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if strings.HasPrefix(key, "ANTENNA_") && !customAntennas {
			cfg.Antennas = map[string]geometry.Vec3{}
			customAntennas = true
		}
		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads configPath, or returns the defaults when the file
// does not exist.
func LoadOrDefault(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(configPath)
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	if label, ok := strings.CutPrefix(key, "ANTENNA_"); ok {
		if label == "" {
			return fmt.Errorf("antenna key %q has no label", key)
		}
		v, err := parseVec3(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		c.Antennas[label] = v
		return nil
	}

	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CALIBRATE":
		c.MQTTClientIDCalibrate = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_LOGGER":
		c.MQTTClientIDLogger = value
	case "MQTT_PUBLISH_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MQTT_PUBLISH_RATE %q: %w", value, err)
		}
		if rate < 1 {
			return fmt.Errorf("MQTT_PUBLISH_RATE must be at least 1, got %d", rate)
		}
		c.MQTTPublishRate = rate

	// Topics
	case "TOPIC_RESULT":
		c.TopicResult = value
	case "TOPIC_ATTITUDE":
		c.TopicAttitude = value
	case "TOPIC_BIAS":
		c.TopicBias = value
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_SENSOR":
		c.TopicSensor = value

	// Geometry
	case "REFERENCE_ANTENNA":
		c.ReferenceAntenna = value
	case "REFERENCE_ORIGIN":
		v, err := parseVec3(value)
		if err != nil {
			return fmt.Errorf("invalid REFERENCE_ORIGIN %q: %w", value, err)
		}
		c.ReferenceOrigin = v

	// Position input
	case "POS_TIME_OFFSET":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid POS_TIME_OFFSET %q: %w", value, err)
		}
		c.PosTimeOffset = d
	case "MAX_STDDEV":
		v, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.MaxStdDev = v
	case "ACCEPTED_QUALITY":
		q, err := gnss.ParseQualitySet(value)
		if err != nil {
			return fmt.Errorf("invalid ACCEPTED_QUALITY: %w", err)
		}
		c.AcceptedQuality = q
	case "EPOCH_TOLERANCE":
		d, err := parsePositiveDuration(key, value)
		if err != nil {
			return err
		}
		c.EpochTolerance = d

	// Attitude solver
	case "MAX_RESIDUAL":
		v, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.MaxResidual = v
	case "CONDITION_FLOOR":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CONDITION_FLOOR %q: %w", value, err)
		}
		if v < 0 || v >= 1 {
			return fmt.Errorf("CONDITION_FLOOR must be in [0, 1), got %v", v)
		}
		c.ConditionFloor = v
	case "EXCLUDE_FLAGGED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid EXCLUDE_FLAGGED %q: %w", value, err)
		}
		c.ExcludeFlagged = b

	// Synchronization and calibration
	case "SYNC_MAX_GAP":
		d, err := parsePositiveDuration(key, value)
		if err != nil {
			return err
		}
		c.SyncMaxGap = d
	case "SYNC_TARGET":
		t, err := timesync.ParseTarget(value)
		if err != nil {
			return fmt.Errorf("invalid SYNC_TARGET: %w", err)
		}
		c.SyncTarget = t
	case "SIGMA_CLIP":
		v, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.SigmaClip = v
	case "MAX_ITERATIONS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAX_ITERATIONS %q: %w", value, err)
		}
		if n < 1 || n > 1000 {
			return fmt.Errorf("MAX_ITERATIONS must be 1-1000, got %d", n)
		}
		c.MaxIterations = n
	case "MIN_PAIRS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MIN_PAIRS %q: %w", value, err)
		}
		if n < 3 {
			return fmt.Errorf("MIN_PAIRS must be at least 3, got %d", n)
		}
		c.MinPairs = n
	case "WORKERS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WORKERS %q: %w", value, err)
		}
		if n < 0 {
			return fmt.Errorf("WORKERS must not be negative, got %d", n)
		}
		c.Workers = n

	// Sensor
	case "SENSOR_SOURCE":
		c.SensorSource = value
	case "SENSOR_CONVENTION":
		conv, err := observation.ParseConvention(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_CONVENTION: %w", err)
		}
		c.SensorConvention = conv
	case "SENSOR_SERIAL_PORT":
		c.SensorSerialPort = value
	case "SENSOR_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_BAUD_RATE %q: %w", value, err)
		}
		c.SensorBaudRate = rate

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Output
	case "OUTPUT_DIR":
		c.OutputDir = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.ReferenceAntenna == "" {
		return fmt.Errorf("REFERENCE_ANTENNA is required")
	}
	if c.SensorBaudRate <= 0 {
		return fmt.Errorf("SENSOR_BAUD_RATE must be positive")
	}
	if _, err := c.Geometry(); err != nil {
		return err
	}
	return nil
}

// Geometry builds the antenna geometry.
func (c *Config) Geometry() (*geometry.Geometry, error) {
	return geometry.New(c.ReferenceAntenna, c.Antennas)
}

// AntennaLabels returns the configured antenna labels, sorted.
func (c *Config) AntennaLabels() []string {
	labels := make([]string, 0, len(c.Antennas))
	for l := range c.Antennas {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Pipeline returns the pipeline settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Filter: gnss.FilterConfig{
			MaxStdDev: c.MaxStdDev,
			Accepted:  append([]gnss.Quality(nil), c.AcceptedQuality...),
		},
		Reconstruct: reconstruct.Config{
			Tolerance: c.EpochTolerance,
			Origin:    c.ReferenceOrigin,
		},
		Solver: orientation.SolverConfig{
			MaxResidual:    c.MaxResidual,
			ConditionFloor: c.ConditionFloor,
		},
		Sync: timesync.Config{
			MaxGap: c.SyncMaxGap,
			Target: c.SyncTarget,
		},
		Calibration: calibration.Config{
			SigmaClip:     c.SigmaClip,
			MaxIterations: c.MaxIterations,
			MinPairs:      c.MinPairs,
		},
		Convention:     c.SensorConvention,
		ExcludeFlagged: c.ExcludeFlagged,
		Workers:        c.Workers,
	}
}

// PosOptions returns the options for reading position files.
func (c *Config) PosOptions() gnss.PosOptions {
	return gnss.PosOptions{TimeOffset: c.PosTimeOffset}
}

func parseVec3(s string) (geometry.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geometry.Vec3{}, fmt.Errorf("expected x,y,z")
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Vec3{}, err
		}
		v[i] = f
	}
	return geometry.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parsePositive(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if !(v > 0) {
		return 0, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return v, nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
