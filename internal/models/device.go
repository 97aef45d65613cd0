package models

import (
	"time"

	"gorm.io/gorm"
)

// HostSummary is the archived state of one monitored host. The collector
// upserts one row per hostname on every archive tick; the in-memory store
// stays authoritative and never reads these rows back.
type HostSummary struct {
	gorm.Model

	// Identity
	Hostname string `gorm:"uniqueIndex;not null" json:"hostname"`

	// Agent
	AgentVersion    string `json:"agent_version"`
	VersionMismatch bool   `gorm:"default:false" json:"version_mismatch"`

	// Lifecycle
	IsOnline   bool      `gorm:"default:false" json:"is_online"`
	LastUpdate time.Time `json:"last_update"`
	HistoryLen int       `json:"history_len"`

	// LatestJSON is the most recent snapshot as sent by the agent.
	LatestJSON string `gorm:"type:text" json:"-"`

	// Quick-look columns lifted from the latest snapshot.
	CPUUsage float64 `json:"cpu_usage"`
	MemUsage float64 `json:"mem_usage"`
}
