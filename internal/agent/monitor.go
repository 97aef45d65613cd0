package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/blinky-mon/blinky/internal/config"
	"github.com/blinky-mon/blinky/internal/models"
)

// Monitor fills one section of a snapshot.
type Monitor interface {
	Name() string
	Collect(ctx context.Context, snap *models.Snapshot) error
}

// MonitorsFromConfig returns the enabled monitors in a fixed order.
func MonitorsFromConfig(cfg config.MonitorsConfig) []Monitor {
	var ms []Monitor
	if cfg.CPU {
		ms = append(ms, cpuMonitor{})
	}
	if cfg.Memory {
		ms = append(ms, memoryMonitor{})
	}
	if cfg.Disk {
		ms = append(ms, &diskMonitor{rates: newRateTracker(), now: time.Now})
	}
	if cfg.Network {
		ms = append(ms, &networkMonitor{rates: newRateTracker(), now: time.Now})
	}
	if cfg.Temperature {
		ms = append(ms, temperatureMonitor{})
	}
	return ms
}

// ── CPU ─────────────────────────────────────────────────────────────────────

type cpuMonitor struct{}

func (cpuMonitor) Name() string { return "cpu" }

func (cpuMonitor) Collect(ctx context.Context, snap *models.Snapshot) error {
	// Interval 0 compares against the previous call, so the loop never blocks here.
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) > 0 {
		snap.CPU.Usage = pcts[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Cores = uint32(n)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.CPU.Load1, snap.CPU.Load5, snap.CPU.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return nil
}

// ── Memory ──────────────────────────────────────────────────────────────────

type memoryMonitor struct{}

func (memoryMonitor) Name() string { return "memory" }

func (memoryMonitor) Collect(ctx context.Context, snap *models.Snapshot) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("virtual memory: %w", err)
	}
	snap.Memory = models.Memory{
		Total:     vm.Total,
		Used:      vm.Used,
		Available: vm.Available,
		Cached:    vm.Cached,
		Usage:     vm.UsedPercent,
	}
	return nil
}

// ── Disk ────────────────────────────────────────────────────────────────────

type diskMonitor struct {
	rates *rateTracker
	now   func() time.Time
}

func (*diskMonitor) Name() string { return "disk" }

func (m *diskMonitor) Collect(ctx context.Context, snap *models.Snapshot) error {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return fmt.Errorf("disk partitions: %w", err)
	}
	counters, _ := disk.IOCountersWithContext(ctx)
	now := m.now()

	seen := make(map[string]bool)
	for _, p := range partitions {
		if seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		d := models.Disk{
			Device:    p.Device,
			Mount:     p.Mountpoint,
			Total:     usage.Total,
			Used:      usage.Used,
			Available: usage.Free,
			Usage:     usage.UsedPercent,
		}
		if c, ok := counters[filepath.Base(p.Device)]; ok {
			d.ReadBytes, d.WriteBytes = c.ReadBytes, c.WriteBytes
			d.ReadOps, d.WriteOps = c.ReadCount, c.WriteCount
			key := p.Device + ":"
			d.ReadBytesPerSec = m.rates.rate(key+"rb", c.ReadBytes, now)
			d.WriteBytesPerSec = m.rates.rate(key+"wb", c.WriteBytes, now)
			d.ReadOpsPerSec = m.rates.rate(key+"ro", c.ReadCount, now)
			d.WriteOpsPerSec = m.rates.rate(key+"wo", c.WriteCount, now)
		}
		snap.Disks = append(snap.Disks, d)
	}
	return nil
}

// ── Network ─────────────────────────────────────────────────────────────────

type networkMonitor struct {
	rates *rateTracker
	now   func() time.Time
}

func (*networkMonitor) Name() string { return "network" }

func (m *networkMonitor) Collect(ctx context.Context, snap *models.Snapshot) error {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return fmt.Errorf("net io counters: %w", err)
	}
	now := m.now()
	for _, s := range stats {
		if s.Name == "lo" || strings.HasPrefix(s.Name, "lo0") {
			continue
		}
		key := s.Name + ":"
		snap.Network = append(snap.Network, models.NetIface{
			Interface:       s.Name,
			RxBytes:         s.BytesRecv,
			TxBytes:         s.BytesSent,
			RxPackets:       s.PacketsRecv,
			TxPackets:       s.PacketsSent,
			RxErrors:        s.Errin,
			TxErrors:        s.Errout,
			RxBytesPerSec:   m.rates.rate(key+"rb", s.BytesRecv, now),
			TxBytesPerSec:   m.rates.rate(key+"tb", s.BytesSent, now),
			RxPacketsPerSec: m.rates.rate(key+"rp", s.PacketsRecv, now),
			TxPacketsPerSec: m.rates.rate(key+"tp", s.PacketsSent, now),
		})
	}
	return nil
}

// ── Temperature ─────────────────────────────────────────────────────────────

type temperatureMonitor struct{}

func (temperatureMonitor) Name() string { return "temperature" }

func (temperatureMonitor) Collect(ctx context.Context, snap *models.Snapshot) error {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return fmt.Errorf("sensors: %w", err)
	}
	for _, t := range temps {
		sensor, label := splitSensorKey(t.SensorKey)
		snap.Temperatures = append(snap.Temperatures, models.Temperature{
			Sensor:   sensor,
			Type:     sensorType(sensor),
			Label:    label,
			Temp:     t.Temperature,
			Max:      t.High,
			Critical: t.Critical,
		})
	}
	return nil
}

// splitSensorKey turns gopsutil keys such as "coretemp_package_id_0" into
// a chip name and a label.
func splitSensorKey(key string) (sensor, label string) {
	if i := strings.IndexByte(key, '_'); i > 0 {
		return key[:i], key[i+1:]
	}
	return key, key
}

func sensorType(sensor string) string {
	switch {
	case strings.Contains(sensor, "coretemp"), strings.Contains(sensor, "k10temp"), strings.Contains(sensor, "zenpower"):
		return "cpu"
	case strings.Contains(sensor, "nvme"), strings.Contains(sensor, "drivetemp"):
		return "disk"
	case strings.Contains(sensor, "amdgpu"), strings.Contains(sensor, "nouveau"):
		return "gpu"
	case strings.Contains(sensor, "acpitz"):
		return "acpi"
	default:
		return "other"
	}
}
