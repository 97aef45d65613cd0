package agent

import (
	"context"
	"testing"
	"time"

	"github.com/blinky-mon/blinky/internal/config"
	"github.com/blinky-mon/blinky/internal/models"
)

func TestRateTracker(t *testing.T) {
	t.Parallel()

	r := newRateTracker()
	t0 := time.Unix(100, 0)
	if got := r.rate("eth0", 1000, t0); got != 0 {
		t.Fatalf("first sample rate=%v", got)
	}
	if got := r.rate("eth0", 3000, t0.Add(2*time.Second)); got != 1000 {
		t.Fatalf("rate=%v want 1000", got)
	}
	if got := r.rate("eth0", 10, t0.Add(3*time.Second)); got != 0 {
		t.Fatalf("counter reset rate=%v", got)
	}
	if got := r.rate("eth0", 20, t0.Add(3*time.Second)); got != 0 {
		t.Fatalf("zero interval rate=%v", got)
	}
}

func TestSplitSensorKey(t *testing.T) {
	t.Parallel()

	sensor, label := splitSensorKey("coretemp_package_id_0")
	if sensor != "coretemp" || label != "package_id_0" {
		t.Fatalf("got %q %q", sensor, label)
	}
	if sensorType(sensor) != "cpu" || sensorType("nvme") != "disk" || sensorType("mystery") != "other" {
		t.Fatalf("sensorType mapping wrong")
	}
	if s, l := splitSensorKey("acpitz"); s != "acpitz" || l != "acpitz" {
		t.Fatalf("no separator: %q %q", s, l)
	}
}

func TestMonitorsFromConfig(t *testing.T) {
	t.Parallel()

	all := MonitorsFromConfig(config.MonitorsConfig{CPU: true, Memory: true, Disk: true, Network: true, Temperature: true})
	want := []string{"cpu", "memory", "disk", "network", "temperature"}
	if len(all) != len(want) {
		t.Fatalf("monitors=%d", len(all))
	}
	for i, m := range all {
		if m.Name() != want[i] {
			t.Fatalf("monitor %d = %s want %s", i, m.Name(), want[i])
		}
	}
	if len(MonitorsFromConfig(config.MonitorsConfig{})) != 0 {
		t.Fatalf("no monitors expected")
	}
}

type stubMonitor struct{ fail bool }

func (stubMonitor) Name() string { return "stub" }

func (m stubMonitor) Collect(_ context.Context, snap *models.Snapshot) error {
	if m.fail {
		return context.DeadlineExceeded
	}
	snap.CPU.Usage = 42
	return nil
}

func TestCollectorRunsMonitors(t *testing.T) {
	t.Parallel()

	c := NewCollector("override-host", []Monitor{stubMonitor{fail: true}, stubMonitor{}}, nil)
	snap := c.Collect(context.Background())
	if snap.Hostname != "override-host" || snap.SystemInfo.Hostname != "override-host" {
		t.Fatalf("hostname=%q", snap.Hostname)
	}
	if snap.CPU.Usage != 42 {
		t.Fatalf("monitor output missing")
	}
	if snap.AgentVersion == "" || snap.Timestamp == 0 {
		t.Fatalf("version/timestamp not set: %+v", snap)
	}
	if got := c.Monitors(); len(got) != 2 || got[0] != "stub" {
		t.Fatalf("Monitors=%v", got)
	}
}
