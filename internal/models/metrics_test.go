package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func sampleSnapshot() *Snapshot {
	s := NewSnapshot()
	s.Timestamp = 1700000000
	s.Hostname = "h1"
	s.Uptime = 3600
	s.AgentVersion = "0.1.23"
	s.SystemInfo = SystemInfo{Hostname: "h1", OSName: "Debian", OSVersion: "12", Kernel: "6.1.0",
		Architecture: "x86_64", CPUModel: "EPYC", CPUCores: 8, CPUThreads: 16, TotalMemory: 1 << 34}
	s.CPU = CPU{Usage: 12.5, Load1: 0.5, Load5: 0.25, Load15: 0.125, Cores: 8}
	s.Memory = Memory{Total: 1 << 34, Used: 1 << 33, Available: 1 << 33, Cached: 1 << 30, Usage: 50}
	s.Disks = []Disk{{Device: "/dev/sda1", Mount: "/", Total: 100, Used: 40, Available: 60, Usage: 40,
		ReadBytesPerSec: 1.5}}
	s.Smart = []Smart{{Device: "/dev/sda", Temperature: 35, Health: "PASSED", Passed: true}}
	s.Network = []NetIface{{Interface: "eth0", RxBytes: 10, TxBytes: 20, RxBytesPerSec: 2.5}}
	s.Systemd = []SystemdService{{Name: "sshd", State: "active", SubState: "running", Active: true, Enabled: true}}
	s.Containers = []Container{{ID: "abc", Name: "web", Runtime: "docker", State: "running", PIDs: 3}}
	s.Kubernetes = Kubernetes{Type: "k3s", Detected: true, Pods: 4, Nodes: 1, Namespaces: []string{"default"}}
	s.Temperatures = []Temperature{{Sensor: "coretemp", Type: "cpu", Label: "Package id 0", Temp: 48, Critical: 100}}
	return s
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := sampleSnapshot()
	data, err := in.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	out, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestSnapshotFieldNames(t *testing.T) {
	t.Parallel()

	data, _ := sampleSnapshot().ToJSON()
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"timestamp", "hostname", "uptime", "system_info", "cpu", "memory",
		"disks", "smart", "network", "systemd", "containers", "kubernetes", "temperatures"} {
		if _, ok := doc[k]; !ok {
			t.Fatalf("missing top-level key %q", k)
		}
	}
	cpu := doc["cpu"].(map[string]any)
	for _, k := range []string{"usage", "load_1", "load_5", "load_15", "cores"} {
		if _, ok := cpu[k]; !ok {
			t.Fatalf("missing cpu key %q", k)
		}
	}
	temp := doc["temperatures"].([]any)[0].(map[string]any)
	if _, ok := temp["max"]; ok {
		t.Fatalf("zero max should be omitted")
	}
	if temp["critical"].(float64) != 100 {
		t.Fatalf("critical=%v", temp["critical"])
	}
}

func TestEmptySnapshotEncodesArrays(t *testing.T) {
	t.Parallel()

	data, _ := NewSnapshot().ToJSON()
	if !strings.Contains(string(data), `"disks":[]`) || !strings.Contains(string(data), `"namespaces":[]`) {
		t.Fatalf("empty lists should encode as []: %s", data)
	}
}

func TestFromJSONRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := FromJSON([]byte("{not json")); err == nil {
		t.Fatalf("expected error")
	}
	s, err := FromJSON([]byte(`{"hostname":"h2","unknown":1}`))
	if err != nil || s.Hostname != "h2" {
		t.Fatalf("partial doc: %+v err=%v", s, err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := sampleSnapshot()
	c := orig.Clone()
	if !reflect.DeepEqual(*orig, c) {
		t.Fatalf("clone differs:\n%+v\n%+v", *orig, c)
	}

	c.Disks[0].Device = "x"
	c.Smart[0].Device = "x"
	c.Network[0].Interface = "x"
	c.Systemd[0].Name = "x"
	c.Containers[0].ID = "x"
	c.Temperatures[0].Sensor = "x"
	c.Kubernetes.Namespaces[0] = "x"
	if !reflect.DeepEqual(*orig, *sampleSnapshot()) {
		t.Fatalf("editing the clone changed the original: %+v", *orig)
	}

	empty := NewSnapshot().Clone()
	data, err := empty.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "null") {
		t.Fatalf("empty clone encodes nulls: %s", data)
	}
}
