// Package agent implements the Blinky agent: host sampling through
// gopsutil, the rotating local log, the push link to the collector and the
// pull API.
package agent

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/blinky-mon/blinky/internal/models"
	"github.com/blinky-mon/blinky/internal/version"
)

// Collector runs the configured monitors into a fresh Snapshot each cycle.
type Collector struct {
	hostname string
	monitors []Monitor
	log      *zap.Logger
	now      func() time.Time

	once    sync.Once
	sysInfo models.SystemInfo
}

// NewCollector returns a Collector. A non-empty hostname overrides the OS one.
func NewCollector(hostname string, monitors []Monitor, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{hostname: hostname, monitors: monitors, log: log, now: time.Now}
}

// Monitors returns the names of the active monitors.
func (c *Collector) Monitors() []string {
	names := make([]string, len(c.monitors))
	for i, m := range c.monitors {
		names[i] = m.Name()
	}
	return names
}

// Hostname is the name stamped on every snapshot: the override when one was
// given, else what the OS reports.
func (c *Collector) Hostname(ctx context.Context) string {
	return c.systemInfo(ctx).Hostname
}

func (c *Collector) systemInfo(ctx context.Context) models.SystemInfo {
	c.once.Do(func() { c.sysInfo = systemInfo(ctx, c.hostname) })
	return c.sysInfo
}

// Collect gathers the current snapshot. A failing monitor leaves its
// section empty; Collect itself never fails.
func (c *Collector) Collect(ctx context.Context) *models.Snapshot {
	snap := models.NewSnapshot()
	snap.Timestamp = uint64(c.now().Unix())
	snap.AgentVersion = version.Current().String()

	snap.SystemInfo = c.systemInfo(ctx)
	snap.Hostname = c.sysInfo.Hostname

	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = up
	}

	for _, m := range c.monitors {
		if err := m.Collect(ctx, snap); err != nil {
			c.log.Debug("monitor failed", zap.String("monitor", m.Name()), zap.Error(err))
		}
	}
	return snap
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// systemInfo reads static host identity once per process.
func systemInfo(ctx context.Context, override string) models.SystemInfo {
	si := models.SystemInfo{Architecture: runtime.GOARCH, OSName: runtime.GOOS}

	if info, err := host.InfoWithContext(ctx); err == nil {
		si.Hostname = info.Hostname
		if info.Platform != "" {
			si.OSName = info.Platform // e.g. "debian"
		}
		si.OSVersion = info.PlatformVersion
		si.Kernel = info.KernelVersion
		if info.KernelArch != "" {
			si.Architecture = info.KernelArch
		}
	}
	if si.Hostname == "" {
		si.Hostname, _ = os.Hostname()
	}
	if override != "" {
		si.Hostname = override
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		si.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		si.CPUCores = uint32(n)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		si.CPUThreads = uint32(n)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		si.TotalMemory = vm.Total
	}
	return si
}

// rateTracker turns monotonically increasing counters into per-second rates.
type rateTracker struct {
	mu   sync.Mutex
	prev map[string]counterSample
}

type counterSample struct {
	value uint64
	at    time.Time
}

func newRateTracker() *rateTracker {
	return &rateTracker{prev: make(map[string]counterSample)}
}

// rate returns the per-second change of key since the previous call, or 0 on
// the first call and after a counter reset.
func (r *rateTracker) rate(key string, cur uint64, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.prev[key]
	r.prev[key] = counterSample{value: cur, at: now}
	if !ok || cur < prev.value {
		return 0 // first sample or counter reset (reboot)
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(cur-prev.value) / dt
}
