// Copyright (c) 2026 Arthur Meunier
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
)

// RunConsoleMQTT prints run progress and result summaries as they are
// published, until interrupted.
func RunConsoleMQTT(cfg *config.Config) error {
	client, err := ConnectMQTT(cfg, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	// Subscribe to progress
	progressToken := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p ProgressMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: progress unmarshal error: %v", err)
			return
		}
		fmt.Println(formatProgress(p))
	})
	progressToken.Wait()
	if progressToken.Error() != nil {
		return progressToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicProgress)

	// Subscribe to results
	resultToken := client.Subscribe(cfg.TopicResult, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s ResultSummary
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: result unmarshal error: %v", err)
			return
		}
		fmt.Print(formatSummary(s))
	})
	resultToken.Wait()
	if resultToken.Error() != nil {
		return resultToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicResult)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatProgress(p ProgressMessage) string {
	return fmt.Sprintf("[RUN %s] %3d%% %-11s %s", shortID(p.RunID), p.Percent, p.Stage, p.Message)
}

func formatSummary(s ResultSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[RESULT %s] %s  epochs=%d solved=%d flagged=%d  plane pitch=%.3f roll=%.3f\n",
		shortID(s.RunID), s.Timestamp.Format("2006-01-02 15:04:05"),
		s.Reconstruction.Epochs, s.Solve.Solved, s.Solve.Flagged, s.Static.Pitch, s.Static.Roll)
	labels := make([]string, 0, len(s.Errors))
	for label := range s.Errors {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(&b, "  baseline %s: %s\n", label, s.Errors[label])
	}
	for _, axis := range observation.Axes {
		a, ok := s.Axes[axis]
		if !ok {
			continue
		}
		if !a.Calibratable {
			fmt.Fprintf(&b, "  %-7s not calibratable: %s\n", axis, a.Reason)
			continue
		}
		fmt.Fprintf(&b, "  %-7s offset=%+8.3f std=%6.3f rms=%6.3f used=%d outliers=%d drift=%+.3f/h %s\n",
			axis, a.Mean, a.StdDev, a.RMS, a.Used, a.Outliers, a.DriftPerHour, a.Grade)
	}
	return b.String()
}
