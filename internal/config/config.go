// Package config provides configuration management for Blinky.
// It uses Viper to load settings from a TOML file, environment variables
// and CLI flag overrides applied by the caller.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Operating modes of the agent.
const (
	ModeLocal  = "local"  // local storage only
	ModePull   = "pull"   // local storage + HTTP API
	ModePush   = "push"   // push to collector
	ModeHybrid = "hybrid" // push + local storage + HTTP API
)

// Config holds all runtime configuration for agent and collector.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Collector CollectorConfig `mapstructure:"collector"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ── Agent ───────────────────────────────────────────────────────────────────

type AgentConfig struct {
	Mode     string `mapstructure:"mode"`
	Interval int    `mapstructure:"interval"` // seconds between samples
	// Hostname overrides the OS hostname in envelopes and snapshots.
	Hostname string         `mapstructure:"hostname"`
	Monitors MonitorsConfig `mapstructure:"monitors"`
}

type MonitorsConfig struct {
	CPU         bool `mapstructure:"cpu"`
	Memory      bool `mapstructure:"memory"`
	Disk        bool `mapstructure:"disk"`
	Network     bool `mapstructure:"network"`
	Temperature bool `mapstructure:"temperature"`
}

// CollectorConfig is the agent's view of where to push.
type CollectorConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	Timeout   int             `mapstructure:"timeout"` // seconds, dial + handshake
	Enabled   bool            `mapstructure:"enabled"` // push even in local/pull mode
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	InitialDelay      int     `mapstructure:"initial_delay"` // seconds
	MaxDelay          int     `mapstructure:"max_delay"`     // seconds
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	MaxAttempts       int     `mapstructure:"max_attempts"` // 0 = unlimited
}

type StorageConfig struct {
	Path          string `mapstructure:"path"`
	MaxFiles      int    `mapstructure:"max_files"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
}

// APIConfig is the agent's pull API.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ── Collector ───────────────────────────────────────────────────────────────

type ServerConfig struct {
	WSPort          int    `mapstructure:"ws_port"`
	HTTPPort        int    `mapstructure:"http_port"`
	CleanupInterval int    `mapstructure:"cleanup_interval"` // seconds
	MaxAge          int    `mapstructure:"max_age"`          // seconds before a host goes offline
	DBPath          string `mapstructure:"db_path"`          // "" disables the archive
	ArchiveInterval int    `mapstructure:"archive_interval"` // seconds
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Load reads config from path, or when path is empty from config.toml in
// /etc/blinky, ~/.blinky or the working directory, and falls back to
// defaults. Environment variables with prefix BLINKY_ override file values,
// e.g. BLINKY_COLLECTOR_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- Config file ---
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/blinky")
		v.AddConfigPath("$HOME/.blinky")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("BLINKY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.mode", ModeLocal)
	v.SetDefault("agent.interval", 5)
	v.SetDefault("agent.hostname", "")
	v.SetDefault("agent.monitors.cpu", true)
	v.SetDefault("agent.monitors.memory", true)
	v.SetDefault("agent.monitors.disk", true)
	v.SetDefault("agent.monitors.network", true)
	v.SetDefault("agent.monitors.temperature", true)

	v.SetDefault("collector.host", "localhost")
	v.SetDefault("collector.port", 9090)
	v.SetDefault("collector.timeout", 10)
	v.SetDefault("collector.enabled", false)
	v.SetDefault("collector.reconnect.enabled", true)
	v.SetDefault("collector.reconnect.initial_delay", 5)
	v.SetDefault("collector.reconnect.max_delay", 300)
	v.SetDefault("collector.reconnect.backoff_multiplier", 2.0)
	v.SetDefault("collector.reconnect.max_attempts", 0)

	v.SetDefault("storage.path", "/var/lib/blinky/metrics")
	v.SetDefault("storage.max_files", 100)
	v.SetDefault("storage.max_file_size_mb", 10)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 9092)

	v.SetDefault("server.ws_port", 9090)
	v.SetDefault("server.http_port", 9091)
	v.SetDefault("server.cleanup_interval", 1)
	v.SetDefault("server.max_age", 3600)
	v.SetDefault("server.db_path", "blinky.db")
	v.SetDefault("server.archive_interval", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate rejects values the agent or collector cannot run with.
func (c *Config) Validate() error {
	switch c.Agent.Mode {
	case ModeLocal, ModePull, ModePush, ModeHybrid:
	default:
		return fmt.Errorf("agent.mode %q: want local, pull, push or hybrid", c.Agent.Mode)
	}
	if c.Agent.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive, got %d", c.Agent.Interval)
	}
	for name, port := range map[string]int{
		"collector.port":   c.Collector.Port,
		"api.port":         c.API.Port,
		"server.ws_port":   c.Server.WSPort,
		"server.http_port": c.Server.HTTPPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	r := c.Collector.Reconnect
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("collector.reconnect.backoff_multiplier must be >= 1, got %g", r.BackoffMultiplier)
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 || r.MaxAttempts < 0 {
		return errors.New("collector.reconnect delays and max_attempts must not be negative")
	}
	if c.Storage.MaxFiles <= 0 || c.Storage.MaxFileSizeMB <= 0 {
		return errors.New("storage.max_files and storage.max_file_size_mb must be positive")
	}
	if c.Server.CleanupInterval <= 0 || c.Server.MaxAge < 0 || c.Server.ArchiveInterval <= 0 {
		return errors.New("server.cleanup_interval and server.archive_interval must be positive")
	}
	return nil
}

// ── Mode helpers, mirroring the agent's startup table ───────────────────────

// PushEnabled reports whether snapshots are sent to the collector.
func (c *Config) PushEnabled() bool {
	return c.Agent.Mode == ModePush || c.Agent.Mode == ModeHybrid || c.Collector.Enabled
}

// StorageEnabled reports whether snapshots are written to the local log.
func (c *Config) StorageEnabled() bool {
	return c.Agent.Mode == ModeLocal || c.Agent.Mode == ModePull || c.Agent.Mode == ModeHybrid
}

// APIEnabled reports whether the agent serves its pull API. The API reads
// the local log, so it also requires storage.
func (c *Config) APIEnabled() bool {
	return (c.Agent.Mode == ModePull || c.Agent.Mode == ModeHybrid) && c.API.Enabled
}

// CollectorAddr is host:port of the collector's WebSocket listener.
func (c *Config) CollectorAddr() string {
	return fmt.Sprintf("%s:%d", c.Collector.Host, c.Collector.Port)
}
