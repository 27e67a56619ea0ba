package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/config"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/observation"
	"github.com/Arthur-Meunier/DynaCalibration-GNSS/internal/pipeline"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu      sync.Mutex
	msgs    []published
	failOn  string
	failErr error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failOn {
		return fakeToken{err: c.failErr}
	}
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return fakeToken{}
}

func (c *fakeClient) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.topic == topic {
			n++
		}
	}
	return n
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.MQTTPublishRate = 100000
	return cfg
}

func TestPublisherRun(t *testing.T) {
	cfg := fastConfig()
	req := simulated(t, cfg)
	client := &fakeClient{}
	pub := NewPublisher(client, cfg)

	runID := NewRunID()
	res, err := Calibrate(context.Background(), cfg, runID, req, func(p pipeline.Progress) {
		if err := pub.Progress(runID, p); err != nil {
			t.Error(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Result(res); err != nil {
		t.Fatal(err)
	}
	sent, err := pub.Series(res)
	if err != nil {
		t.Fatal(err)
	}

	if got := client.count(cfg.TopicProgress); got != 6 {
		t.Errorf("progress messages = %d, want 6", got)
	}
	if sent != 240 || client.count(cfg.TopicAttitude) != 120 || client.count(cfg.TopicBias) != 120 {
		t.Errorf("series sent %d: attitude %d, bias %d", sent, client.count(cfg.TopicAttitude), client.count(cfg.TopicBias))
	}

	var summary ResultSummary
	for _, m := range client.msgs {
		if m.topic != cfg.TopicResult {
			continue
		}
		if !m.retained {
			t.Error("result not retained")
		}
		if err := json.Unmarshal(m.payload, &summary); err != nil {
			t.Fatal(err)
		}
	}
	if summary.RunID != runID || len(summary.Axes) != 3 || !summary.Axes[observation.Heading].Calibratable {
		t.Fatalf("summary = %+v", summary)
	}

	var first AttitudeMessage
	for _, m := range client.msgs {
		if m.topic == cfg.TopicAttitude {
			if err := json.Unmarshal(m.payload, &first); err != nil {
				t.Fatal(err)
			}
			break
		}
	}
	if first.RunID != runID || !first.Time.Equal(res.Report.Attitude[0].Time) {
		t.Errorf("first attitude message = %+v", first)
	}
}

func TestPublisherError(t *testing.T) {
	cfg := fastConfig()
	client := &fakeClient{failOn: cfg.TopicProgress, failErr: errors.New("broker gone")}
	pub := NewPublisher(client, cfg)
	err := pub.Progress("r", pipeline.Progress{Stage: pipeline.StageFilter})
	if err == nil || !strings.Contains(err.Error(), "broker gone") {
		t.Fatalf("err = %v", err)
	}
	if n, err := pub.Series(&Result{}); n != 0 || err != nil {
		t.Fatalf("empty result: %d, %v", n, err)
	}
}

func TestConsoleFormatting(t *testing.T) {
	line := formatProgress(ProgressMessage{
		RunID:    "0123456789abcdef",
		Progress: pipeline.Progress{Stage: pipeline.StageSolve, Percent: 55, Message: "120 attitudes solved"},
	})
	if !strings.Contains(line, "[RUN 01234567]") || !strings.Contains(line, "55%") || !strings.Contains(line, "solve") {
		t.Errorf("progress line %q", line)
	}

	out := formatSummary(ResultSummary{
		RunID: "abc",
		Axes: map[observation.Axis]AxisSummary{
			observation.Heading: {Calibratable: true, Mean: 1.5, StdDev: 0.02, Grade: "excellent"},
			observation.Roll:    {Reason: "5 pairs, need 10"},
		},
		Errors: map[string]string{"Stbd": "no data", "Port": "no valid samples", "Mast": "bad file"},
	})
	for _, want := range []string{"[RESULT abc]", "plane pitch=", "heading offset=  +1.500", "excellent", "roll    not calibratable: 5 pairs, need 10", "baseline Stbd: no data"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\n  pitch ") {
		t.Errorf("summary lists an absent axis:\n%s", out)
	}

	mast := strings.Index(out, "baseline Mast:")
	port := strings.Index(out, "baseline Port:")
	stbd := strings.Index(out, "baseline Stbd:")
	if mast < 0 || !(mast < port && port < stbd) {
		t.Errorf("baseline errors not sorted by label:\n%s", out)
	}
}
