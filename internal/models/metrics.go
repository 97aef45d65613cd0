// Package models defines the snapshot document exchanged by agent and
// collector and the GORM models the collector archives.
package models

import (
	"encoding/json"
	"slices"
)

// Snapshot is one point-in-time metrics document for a host. Its JSON form
// is what travels in a METRICS envelope and what a Local Log line holds.
type Snapshot struct {
	Timestamp    uint64 `json:"timestamp"` // unix seconds
	Hostname     string `json:"hostname"`
	Uptime       uint64 `json:"uptime"` // seconds
	AgentVersion string `json:"agent_version,omitempty"`

	SystemInfo SystemInfo `json:"system_info"`
	CPU        CPU        `json:"cpu"`
	Memory     Memory     `json:"memory"`

	Disks        []Disk           `json:"disks"`
	Smart        []Smart          `json:"smart"`
	Network      []NetIface       `json:"network"`
	Systemd      []SystemdService `json:"systemd"`
	Containers   []Container      `json:"containers"`
	Kubernetes   Kubernetes       `json:"kubernetes"`
	Temperatures []Temperature    `json:"temperatures"`
}

// SystemInfo is static host identity, refreshed rarely.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OSName       string `json:"os_name"`
	OSVersion    string `json:"os_version"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     uint32 `json:"cpu_cores"`
	CPUThreads   uint32 `json:"cpu_threads"`
	TotalMemory  uint64 `json:"total_memory"` // bytes
}

// ── Compute ─────────────────────────────────────────────────────────────────

type CPU struct {
	Usage  float64 `json:"usage"` // percent 0-100
	Load1  float64 `json:"load_1"`
	Load5  float64 `json:"load_5"`
	Load15 float64 `json:"load_15"`
	Cores  uint32  `json:"cores"`
}

// Memory values are bytes; Usage is percent 0-100.
type Memory struct {
	Total     uint64  `json:"total"`
	Used      uint64  `json:"used"`
	Available uint64  `json:"available"`
	Cached    uint64  `json:"cached"`
	Usage     float64 `json:"usage"`
}

// ── Storage ─────────────────────────────────────────────────────────────────

// Disk is one mounted filesystem plus the I/O counters of its device.
// The *PerSec fields are deltas against the previous sample.
type Disk struct {
	Device           string  `json:"device"`
	Mount            string  `json:"mount"`
	Total            uint64  `json:"total"`
	Used             uint64  `json:"used"`
	Available        uint64  `json:"available"`
	Usage            float64 `json:"usage"`
	ReadBytes        uint64  `json:"read_bytes"`
	WriteBytes       uint64  `json:"write_bytes"`
	ReadOps          uint64  `json:"read_ops"`
	WriteOps         uint64  `json:"write_ops"`
	ReadBytesPerSec  float64 `json:"read_bytes_per_sec"`
	WriteBytesPerSec float64 `json:"write_bytes_per_sec"`
	ReadOpsPerSec    float64 `json:"read_ops_per_sec"`
	WriteOpsPerSec   float64 `json:"write_ops_per_sec"`
}

type Smart struct {
	Device             string `json:"device"`
	Temperature        int    `json:"temperature"`
	PowerOnHours       uint64 `json:"power_on_hours"`
	ReallocatedSectors uint64 `json:"reallocated_sectors"`
	PendingSectors     uint64 `json:"pending_sectors"`
	Health             string `json:"health"`
	Passed             bool   `json:"passed"`
}

// ── Network ─────────────────────────────────────────────────────────────────

type NetIface struct {
	Interface       string  `json:"interface"`
	RxBytes         uint64  `json:"rx_bytes"`
	TxBytes         uint64  `json:"tx_bytes"`
	RxPackets       uint64  `json:"rx_packets"`
	TxPackets       uint64  `json:"tx_packets"`
	RxErrors        uint64  `json:"rx_errors"`
	TxErrors        uint64  `json:"tx_errors"`
	RxBytesPerSec   float64 `json:"rx_bytes_per_sec"`
	TxBytesPerSec   float64 `json:"tx_bytes_per_sec"`
	RxPacketsPerSec float64 `json:"rx_packets_per_sec"`
	TxPacketsPerSec float64 `json:"tx_packets_per_sec"`
}

// ── Services and workloads ──────────────────────────────────────────────────

type SystemdService struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	SubState string `json:"sub_state"`
	Active   bool   `json:"active"`
	Enabled  bool   `json:"enabled"`
}

type Container struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Runtime               string  `json:"runtime"` // docker | podman | containerd
	State                 string  `json:"state"`
	Image                 string  `json:"image"`
	CPUPercent            float64 `json:"cpu_percent"`
	MemoryBytes           uint64  `json:"memory_bytes"`
	MemoryLimit           uint64  `json:"memory_limit"`
	MemoryPercent         float64 `json:"memory_percent"`
	MemoryCache           uint64  `json:"memory_cache"`
	NetworkRxBytes        uint64  `json:"network_rx_bytes"`
	NetworkTxBytes        uint64  `json:"network_tx_bytes"`
	NetworkRxPackets      uint64  `json:"network_rx_packets"`
	NetworkTxPackets      uint64  `json:"network_tx_packets"`
	NetworkRxErrors       uint64  `json:"network_rx_errors"`
	NetworkTxErrors       uint64  `json:"network_tx_errors"`
	NetworkRxBytesPerSec  float64 `json:"network_rx_bytes_per_sec"`
	NetworkTxBytesPerSec  float64 `json:"network_tx_bytes_per_sec"`
	BlockReadBytes        uint64  `json:"block_read_bytes"`
	BlockWriteBytes       uint64  `json:"block_write_bytes"`
	BlockReadBytesPerSec  float64 `json:"block_read_bytes_per_sec"`
	BlockWriteBytesPerSec float64 `json:"block_write_bytes_per_sec"`
	PIDs                  uint32  `json:"pids"`
}

type Kubernetes struct {
	Type       string   `json:"type"`
	Detected   bool     `json:"detected"`
	Pods       int      `json:"pods"`
	Nodes      int      `json:"nodes"`
	Namespaces []string `json:"namespaces"`
}

// Temperature is one hardware sensor reading in degrees Celsius. Max and
// Critical are omitted when the sensor does not report them.
type Temperature struct {
	Sensor   string  `json:"sensor"`
	Type     string  `json:"type"`
	Label    string  `json:"label"`
	Temp     float64 `json:"temp"`
	Max      float64 `json:"max,omitempty"`
	Critical float64 `json:"critical,omitempty"`
}

// NewSnapshot returns a Snapshot whose list fields encode as [] rather than null.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Disks:        []Disk{},
		Smart:        []Smart{},
		Network:      []NetIface{},
		Systemd:      []SystemdService{},
		Containers:   []Container{},
		Kubernetes:   Kubernetes{Namespaces: []string{}},
		Temperatures: []Temperature{},
	}
}

// Clone returns a deep copy of s. Every element type is flat, so copying
// the slices is enough. Empty lists stay empty rather than nil.
func (s *Snapshot) Clone() Snapshot {
	c := *s
	c.Disks = slices.Clone(s.Disks)
	c.Smart = slices.Clone(s.Smart)
	c.Network = slices.Clone(s.Network)
	c.Systemd = slices.Clone(s.Systemd)
	c.Containers = slices.Clone(s.Containers)
	c.Kubernetes.Namespaces = slices.Clone(s.Kubernetes.Namespaces)
	c.Temperatures = slices.Clone(s.Temperatures)
	return c
}

// ToJSON encodes s as a single line.
func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON decodes a document produced by ToJSON. Unknown fields are ignored
// and missing ones keep their zero value.
func FromJSON(data []byte) (*Snapshot, error) {
	s := NewSnapshot()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
