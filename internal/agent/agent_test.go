package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinky-mon/blinky/internal/config"
	"github.com/blinky-mon/blinky/internal/models"
	"github.com/blinky-mon/blinky/internal/protocol"
)

type fakeSampler struct{ n atomic.Uint64 }

func (f *fakeSampler) Collect(context.Context) *models.Snapshot {
	s := models.NewSnapshot()
	s.Hostname = "h1"
	s.Timestamp = 1_700_000_000 + f.n.Add(1)
	s.AgentVersion = "0.1.23"
	return s
}

func testConfig(t *testing.T, mode string, port int) *config.Config {
	t.Helper()
	return &config.Config{
		Agent: config.AgentConfig{Mode: mode, Interval: 1, Hostname: "h1"},
		Collector: config.CollectorConfig{
			Host: "127.0.0.1", Port: port, Timeout: 1,
			Reconnect: config.ReconnectConfig{Enabled: true, InitialDelay: 0, MaxDelay: 1, BackoffMultiplier: 2},
		},
		Storage: config.StorageConfig{Path: t.TempDir(), MaxFiles: 5, MaxFileSizeMB: 1},
		API:     config.APIConfig{Enabled: false, Port: 9092},
	}
}

func TestAgentHybridStoresAndPushes(t *testing.T) {
	t.Parallel()
	fc := startFakeCollector(t)

	cfg := testConfig(t, config.ModeHybrid, fc.port(t))
	a := New(cfg, nil, WithSampler(&fakeSampler{}), WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var got []protocol.Envelope
	timeout := time.After(3 * time.Second)
	for len(got) < 3 {
		select {
		case f := <-fc.frames:
			got = append(got, protocol.Deserialize([]byte(f)))
		case <-timeout:
			t.Fatalf("received %d frames", len(got))
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, env := range got {
		if env.Type != protocol.Metrics || env.Hostname != "h1" {
			t.Fatalf("envelope=%+v", env)
		}
		snap, err := models.FromJSON([]byte(env.Payload))
		if err != nil || snap.Hostname != "h1" || snap.Timestamp != env.Timestamp {
			t.Fatalf("payload=%q err=%v", env.Payload, err)
		}
	}
	if n := a.Store().TotalCount(); n < 3 {
		t.Fatalf("local log holds %d lines", n)
	}
	if a.Health().StreamConnected() {
		t.Fatalf("stream should be down after Run returns")
	}
}

func TestAgentGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.ModeHybrid, 1) // nothing listens on port 1
	cfg.Collector.Reconnect.MaxAttempts = 2
	a := New(cfg, nil, WithSampler(&fakeSampler{}), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !a.policy.Exhausted() {
		t.Fatalf("policy should be exhausted, failures=%d", a.policy.Failures())
	}
	if a.policy.Failures() != 2 {
		t.Fatalf("failures=%d want 2", a.policy.Failures())
	}
	if a.Store().TotalCount() == 0 {
		t.Fatalf("local storage should keep working without a collector")
	}
}

func TestAgentModeWiring(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode          string
		store, client bool
	}{
		{config.ModeLocal, true, false},
		{config.ModePull, true, false},
		{config.ModePush, false, true},
		{config.ModeHybrid, true, true},
	}
	for _, tc := range cases {
		a := New(testConfig(t, tc.mode, 9090), nil, WithSampler(&fakeSampler{}))
		if (a.store != nil) != tc.store || (a.client != nil) != tc.client {
			t.Fatalf("%s: store=%t client=%t", tc.mode, a.store != nil, a.client != nil)
		}
	}
}

type namedSampler struct{ fakeSampler }

func (*namedSampler) Hostname(context.Context) string { return "box-7" }

func TestPullAPIReportsResolvedHostname(t *testing.T) {
	t.Parallel()

	osName, _ := os.Hostname()
	cases := map[string]struct {
		sampler Sampler
		want    string
	}{
		"sampler name":   {&namedSampler{}, "box-7"},
		"os fallback":    {&fakeSampler{}, osName},
		"real collector": {NewCollector("", nil, nil), ""},
	}
	for name, tc := range cases {
		cfg := testConfig(t, config.ModePull, 9090)
		cfg.Agent.Hostname = ""
		cfg.API.Enabled = true
		a := New(cfg, nil, WithSampler(tc.sampler))
		if a.api == nil {
			t.Fatalf("%s: pull API not wired", name)
		}

		w := httptest.NewRecorder()
		a.api.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		var health map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
			t.Fatalf("%s: decode /health: %v", name, err)
		}
		got, _ := health["hostname"].(string)
		if got == "" {
			t.Fatalf("%s: /health hostname is empty", name)
		}
		if tc.want != "" && got != tc.want {
			t.Fatalf("%s: hostname = %q, want %q", name, got, tc.want)
		}
	}
}
