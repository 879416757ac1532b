package scanner

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// CPUSource reports aggregate CPU usage percent.
type CPUSource interface {
	Percent(ctx context.Context) (float64, error)
}

// MemorySource reports virtual memory usage.
type MemorySource interface {
	Memory(ctx context.Context) (MemoryStats, error)
}

// DiskSource reports per-volume usage.
type DiskSource interface {
	Usage(ctx context.Context) ([]DiskStats, error)
}

// ProcessSource reports the top-N processes by resident memory.
type ProcessSource interface {
	Top(ctx context.Context, n int) ([]ProcessInfo, error)
}

// NetSource reports host-wide network counters.
type NetSource interface {
	Counters(ctx context.Context) (NetworkStats, error)
}

// Sources bundles one implementation per metric capability. The set is
// chosen once at construction, not re-dispatched per call.
type Sources struct {
	CPU     CPUSource
	Memory  MemorySource
	Disk    DiskSource
	Process ProcessSource
	Net     NetSource
}

// SystemSources returns gopsutil-backed sources for the current host.
func SystemSources() Sources {
	return Sources{
		CPU:     gopsCPU{},
		Memory:  gopsMemory{},
		Disk:    gopsDisk{},
		Process: gopsProcess{},
		Net:     gopsNet{},
	}
}

type gopsCPU struct{}

func (gopsCPU) Percent(ctx context.Context) (float64, error) {
	// Interval 0 compares against the previous sampling instead of
	// blocking the loop.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu samples returned")
	}
	return percents[0], nil
}

type gopsMemory struct{}

func (gopsMemory) Memory(ctx context.Context) (MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStats{}, err
	}
	return MemoryStats{
		TotalBytes:     vm.Total,
		UsedBytes:      vm.Used,
		AvailableBytes: vm.Available,
		UsedPercent:    vm.UsedPercent,
	}, nil
}

type gopsDisk struct{}

func (gopsDisk) Usage(ctx context.Context) ([]DiskStats, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]DiskStats, 0, len(parts))
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			// One unreadable mount does not fail the probe.
			continue
		}
		out = append(out, DiskStats{
			Path:        p.Mountpoint,
			TotalBytes:  usage.Total,
			FreeBytes:   usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no readable volumes")
	}
	return out, nil
}

type gopsProcess struct{}

func (gopsProcess) Top(ctx context.Context, n int) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info, err := p.MemoryInfoWithContext(ctx)
		if err != nil || info == nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			name = "?"
		}
		memPct, _ := p.MemoryPercentWithContext(ctx)
		out = append(out, ProcessInfo{
			PID:      p.Pid,
			Name:     name,
			RSSBytes: info.RSS,
			MemPct:   memPct,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RSSBytes > out[j].RSSBytes })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

type gopsNet struct{}

func (gopsNet) Counters(ctx context.Context) (NetworkStats, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return NetworkStats{}, err
	}
	if len(counters) == 0 {
		return NetworkStats{}, fmt.Errorf("no network counters returned")
	}
	c := counters[0]
	return NetworkStats{
		BytesSent:   c.BytesSent,
		BytesRecv:   c.BytesRecv,
		PacketsSent: c.PacketsSent,
		PacketsRecv: c.PacketsRecv,
	}, nil
}
