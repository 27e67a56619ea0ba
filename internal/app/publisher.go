// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/ratelimit"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/bias"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/calibration"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/reconstruct"
)

// ProgressMessage is published on TOPIC_PROGRESS after every stage.
type ProgressMessage struct {
	RunID string `json:"run_id"`
	pipeline.Progress
}

// AttitudeMessage is one sample of the attitude series on TOPIC_ATTITUDE.
type AttitudeMessage struct {
	RunID string `json:"run_id"`
	orientation.AttitudeSample
}

// BiasMessage is one sample of the geometric bias series on TOPIC_BIAS.
type BiasMessage struct {
	RunID string `json:"run_id"`
	bias.Sample
}

// AxisSummary is the headline of one calibrated axis.
type AxisSummary struct {
	Calibratable bool              `json:"calibratable"`
	Reason       string            `json:"reason,omitempty"`
	Mean         float64           `json:"mean"`
	StdDev       float64           `json:"std_dev"`
	Median       float64           `json:"median"`
	RMS          float64           `json:"rms"`
	Used         int               `json:"used"`
	Outliers     int               `json:"outliers"`
	Grade        calibration.Grade `json:"grade,omitempty"`
	DriftPerHour float64           `json:"drift_per_hour"`
}

// ResultSummary is the retained message on TOPIC_RESULT. The full series
// stay in the result file.
type ResultSummary struct {
	RunID          string                           `json:"run_id"`
	Timestamp      time.Time                        `json:"timestamp"`
	Reference      string                           `json:"reference_antenna"`
	Reconstruction reconstruct.Stats                `json:"reconstruction"`
	Solve          orientation.SolveStats           `json:"solve"`
	Static         bias.Static                      `json:"static_bias"`
	Axes           map[observation.Axis]AxisSummary `json:"axes"`
	Errors         map[string]string                `json:"baseline_errors,omitempty"`
}

// Summarize extracts the headline figures of res.
func Summarize(res *Result) ResultSummary {
	s := ResultSummary{
		RunID:     res.RunID,
		Timestamp: res.Timestamp,
		Reference: res.Reference,
		Axes:      map[observation.Axis]AxisSummary{},
	}
	r := res.Report
	if r == nil {
		return s
	}
	s.Reconstruction = r.Reconstruction
	s.Solve = r.Solve
	s.Static = r.Static
	s.Errors = r.BaselineErrors
	for _, axis := range reportAxes(r) {
		a := r.Axes[axis]
		s.Axes[axis] = AxisSummary{
			Calibratable: a.Calibratable,
			Reason:       a.Reason,
			Mean:         a.Mean,
			StdDev:       a.StdDev,
			Median:       a.Median,
			RMS:          a.RMS,
			Used:         a.Used,
			Outliers:     a.Outliers,
			Grade:        a.Grade,
			DriftPerHour: a.Drift.PerHour,
		}
	}
	return s
}

// publishClient is the part of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends run progress and results to the MQTT broker.
type Publisher struct {
	client  publishClient
	cfg     *config.Config
	limiter ratelimit.Limiter
}

// ConnectMQTT connects to the configured broker with clientID.
func ConnectMQTT(cfg *config.Config, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Printf("%s: connected to MQTT broker at %s", clientID, cfg.MQTTBroker)
	return client, nil
}

// NewPublisher paces series messages at MQTT_PUBLISH_RATE per second.
func NewPublisher(client publishClient, cfg *config.Config) *Publisher {
	return &Publisher{
		client:  client,
		cfg:     cfg,
		limiter: ratelimit.New(cfg.MQTTPublishRate),
	}
}

func (p *Publisher) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// Progress publishes one stage completion.
func (p *Publisher) Progress(runID string, pr pipeline.Progress) error {
	return p.publish(p.cfg.TopicProgress, false, ProgressMessage{RunID: runID, Progress: pr})
}

// Result publishes the retained summary of res.
func (p *Publisher) Result(res *Result) error {
	return p.publish(p.cfg.TopicResult, true, Summarize(res))
}

// Series publishes the attitude and bias series of res one sample at a
// time and returns the number of messages sent.
func (p *Publisher) Series(res *Result) (int, error) {
	if res.Report == nil {
		return 0, nil
	}
	sent := 0
	for _, a := range res.Report.Attitude {
		p.limiter.Take()
		if err := p.publish(p.cfg.TopicAttitude, false, AttitudeMessage{RunID: res.RunID, AttitudeSample: a}); err != nil {
			return sent, err
		}
		sent++
	}
	for _, b := range res.Report.Bias {
		p.limiter.Take()
		if err := p.publish(p.cfg.TopicBias, false, BiasMessage{RunID: res.RunID, Sample: b}); err != nil {
			return sent, err
		}
		sent++
	}
	log.Printf("publisher: run %s: %d series messages sent", res.RunID, sent)
	return sent, nil
}
