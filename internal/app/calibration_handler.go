// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocket message types
type WSMessage struct {
	Action    string            `json:"action"` // run, cancel
	Baselines map[string]string `json:"baselines,omitempty"`
	Sensors   []string          `json:"sensors,omitempty"`
	Source    string            `json:"source,omitempty"`
}

type WSResponse struct {
	Type     string         `json:"type"` // start, progress, complete, cancelling, cancelled, error
	RunID    string         `json:"run_id,omitempty"`
	Stage    pipeline.Stage `json:"stage,omitempty"`
	Progress int            `json:"progress,omitempty"`
	Message  string         `json:"message,omitempty"`
	Results  *ResultSummary `json:"results,omitempty"`
	File     string         `json:"file,omitempty"`
}

// CalibrationHandler runs calibrations requested over a WebSocket and
// streams the pipeline stages back to the client. Each connection runs at
// most one calibration at a time, in the background, so a "cancel" message
// stops it at the next stage boundary.
type CalibrationHandler struct {
	cfg *config.Config
	pub *Publisher // optional

	stageHook func(pipeline.Stage) // called after each progress message
}

// NewCalibrationHandler returns a handler for cfg. When pub is non-nil the
// progress and results of each run are also published to MQTT.
func NewCalibrationHandler(cfg *config.Config, pub *Publisher) *CalibrationHandler {
	return &CalibrationHandler{cfg: cfg, pub: pub}
}

// calibrationSession holds the state of one connection.
type calibrationSession struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes

	state   sync.Mutex
	runs    int
	current string
	cancel  context.CancelFunc // set while a run is active
	wg      sync.WaitGroup
}

func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &calibrationSession{conn: conn}
	defer func() {
		cancel()
		session.wg.Wait()
		conn.Close()
	}()

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("calibration: websocket read error: %v", err)
			}
			return
		}

		switch msg.Action {
		case "run":
			h.start(ctx, session, msg)
		case "cancel":
			runID, ok := session.stop()
			if !ok {
				session.send(WSResponse{Type: "error", Message: "no run in progress"})
				continue
			}
			log.Printf("calibration: run %s cancelled by user", runID)
			session.send(WSResponse{Type: "cancelling", RunID: runID})
		default:
			session.send(WSResponse{Type: "error", Message: fmt.Sprintf("unknown action %q", msg.Action)})
		}
	}
}

// start launches the run requested by msg unless one is already active.
func (h *CalibrationHandler) start(ctx context.Context, s *calibrationSession, msg WSMessage) {
	if len(msg.Baselines) == 0 {
		s.send(WSResponse{Type: "error", Message: "no baselines given"})
		return
	}

	s.state.Lock()
	if s.cancel != nil {
		s.state.Unlock()
		s.send(WSResponse{Type: "error", Message: "a run is already in progress"})
		return
	}
	runID := NewRunID()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.current = runID
	s.runs++
	n := s.runs
	s.wg.Add(1)
	s.state.Unlock()

	log.Printf("calibration: run %s started (%d on this connection)", runID, n)
	s.send(WSResponse{Type: "start", RunID: runID})

	go func() {
		defer s.wg.Done()
		resp := h.run(runCtx, s, runID, msg)
		s.finish()
		s.send(resp)
	}()
}

// run executes one calibration and returns its final message.
func (h *CalibrationHandler) run(ctx context.Context, s *calibrationSession, runID string, msg WSMessage) WSResponse {
	req := RunRequest{Baselines: msg.Baselines, Sensors: msg.Sensors, Source: msg.Source}
	res, err := Calibrate(ctx, h.cfg, runID, req, func(p pipeline.Progress) {
		s.send(WSResponse{Type: "progress", RunID: runID, Stage: p.Stage, Progress: p.Percent, Message: p.Message})
		if h.pub != nil {
			if err := h.pub.Progress(runID, p); err != nil {
				log.Printf("calibration: %v", err)
			}
		}
		if h.stageHook != nil {
			h.stageHook(p.Stage)
		}
	})
	if err != nil {
		file, werr := WritePartialResult(h.cfg.OutputDir, res, err)
		if werr != nil {
			log.Printf("calibration: %v", werr)
		}
		if errors.Is(err, context.Canceled) {
			return WSResponse{Type: "cancelled", RunID: runID, Message: err.Error(), File: file}
		}
		return WSResponse{Type: "error", RunID: runID, Message: err.Error(), File: file}
	}

	file, err := WriteResult(h.cfg.OutputDir, res)
	if err != nil {
		return WSResponse{Type: "error", RunID: runID, Message: err.Error()}
	}
	if h.pub != nil {
		if err := h.pub.Result(res); err != nil {
			log.Printf("calibration: %v", err)
		}
	}

	summary := Summarize(res)
	return WSResponse{Type: "complete", RunID: runID, Progress: 100, Results: &summary, File: file}
}

// stop cancels the active run and returns its ID.
func (s *calibrationSession) stop() (string, bool) {
	s.state.Lock()
	defer s.state.Unlock()
	if s.cancel == nil {
		return "", false
	}
	s.cancel()
	return s.current, true
}

func (s *calibrationSession) finish() {
	s.state.Lock()
	defer s.state.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *calibrationSession) send(resp WSResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(resp); err != nil {
		log.Printf("calibration: websocket write error: %v", err)
	}
}
