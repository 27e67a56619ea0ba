// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/bias"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/geometry"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/orientation"
)

// liveFeed keeps the latest messages seen on the broker.
type liveFeed struct {
	mu       sync.RWMutex
	summary  *ResultSummary
	attitude *AttitudeMessage
}

func (f *liveFeed) updateResult(payload []byte) error {
	var s ResultSummary
	if err := json.Unmarshal(payload, &s); err != nil {
		return err
	}
	f.mu.Lock()
	f.summary = &s
	f.mu.Unlock()
	return nil
}

func (f *liveFeed) updateAttitude(payload []byte) error {
	var a AttitudeMessage
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	f.mu.Lock()
	f.attitude = &a
	f.mu.Unlock()
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func (f *liveFeed) serveResult(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.summary == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, f.summary)
}

func (f *liveFeed) serveAttitude(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.attitude == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, f.attitude)
}

// GeometryInfo describes the configured antenna layout.
type GeometryInfo struct {
	Reference       string                   `json:"reference"`
	Antennas        map[string]geometry.Vec3 `json:"antennas"`
	PlaneNormal     geometry.Vec3            `json:"plane_normal"`
	HeadingBaseline geometry.Vec3            `json:"heading_baseline"`
	Span            float64                  `json:"span"`
	LevelBias       orientation.Attitude     `json:"level_bias"`
	PlaneTilt       bias.Static              `json:"plane_tilt"`
}

// DescribeGeometry builds the geometry of cfg and its static bias figures.
func DescribeGeometry(cfg *config.Config) (GeometryInfo, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return GeometryInfo{}, err
	}
	g := engine.Geometry()
	info := GeometryInfo{
		Reference:       g.Reference(),
		Antennas:        make(map[string]geometry.Vec3, g.Len()),
		PlaneNormal:     g.PlaneNormal(),
		HeadingBaseline: g.HeadingBaseline(),
		Span:            g.Span(),
		LevelBias:       engine.BiasModel().At(0, 0),
		PlaneTilt:       engine.BiasModel().Static(),
	}
	for _, l := range g.Labels() {
		p, _ := g.Position(l)
		info.Antennas[l] = p
	}
	return info, nil
}

// newWebMux wires the HTTP API: the latest broker messages, the configured
// geometry and the calibration WebSocket.
func newWebMux(cfg *config.Config, feed *liveFeed, pub *Publisher) (*http.ServeMux, error) {
	info, err := DescribeGeometry(cfg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/result", feed.serveResult)
	mux.HandleFunc("/api/attitude", feed.serveAttitude)
	mux.HandleFunc("/api/geometry", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, info)
	})
	mux.Handle("/ws/calibrate", NewCalibrationHandler(cfg, pub))
	return mux, nil
}

// RunWeb serves the calibration API and the live feed of the broker.
func RunWeb(cfg *config.Config) error {
	client, err := ConnectMQTT(cfg, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	feed := &liveFeed{}
	subs := map[string]func([]byte) error{
		cfg.TopicResult:   feed.updateResult,
		cfg.TopicAttitude: feed.updateAttitude,
	}
	for topic, update := range subs {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := update(msg.Payload()); err != nil {
				log.Printf("MQTT payload unmarshal error on %s: %v", msg.Topic(), err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("subscribed to MQTT topic %s", topic)
	}

	mux, err := newWebMux(cfg, feed, NewPublisher(client, cfg))
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
