package daemon

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cuemby/warden/pkg/types"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Collector produces one heartbeat report
type Collector interface {
	Collect(ctx context.Context) (*types.HeartbeatReport, error)
}

// pseudo filesystems never reported as disks
var ignoredFSTypes = map[string]bool{
	"tmpfs": true, "devtmpfs": true, "overlay": true, "squashfs": true,
	"proc": true, "sysfs": true, "cgroup": true, "cgroup2": true, "nsfs": true,
}

// SystemCollector samples the host with gopsutil
type SystemCollector struct {
	mounts  []string
	counter ContainerCounter
	version string
}

// NewSystemCollector reports the given mount points, or every physical
// partition when mounts is empty. counter may be nil.
func NewSystemCollector(version string, counter ContainerCounter, mounts ...string) *SystemCollector {
	return &SystemCollector{
		mounts:  mounts,
		counter: counter,
		version: version,
	}
}

// Collect samples CPU, memory, disks, network totals and the container count
func (c *SystemCollector) Collect(ctx context.Context) (*types.HeartbeatReport, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sample cpu: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = clampPercent(percents[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sample memory: %w", err)
	}

	disks, err := c.disks(ctx)
	if err != nil {
		return nil, err
	}

	var in, out int64
	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		in = toInt64(counters[0].BytesRecv)
		out = toInt64(counters[0].BytesSent)
	}

	containers := 0
	if c.counter != nil {
		n, err := c.counter.CountContainers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count containers: %w", err)
		}
		containers = n
	}

	used, total := toInt64(vm.Used), toInt64(vm.Total)
	if used > total {
		used = total
	}
	memPercent := clampPercent(vm.UsedPercent)

	return &types.HeartbeatReport{
		CPU: &cpuPercent,
		Memory: &types.MemoryReport{
			Used:    &used,
			Total:   &total,
			Percent: &memPercent,
		},
		Disk:           disks,
		Network:        &types.NetworkReport{In: &in, Out: &out},
		ContainerCount: &containers,
		DaemonVersion:  c.version,
	}, nil
}

func (c *SystemCollector) disks(ctx context.Context) ([]types.DiskReport, error) {
	mounts := c.mounts
	if len(mounts) == 0 {
		parts, err := disk.PartitionsWithContext(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("failed to list partitions: %w", err)
		}
		seen := make(map[string]bool)
		for _, p := range parts {
			if ignoredFSTypes[p.Fstype] || seen[p.Mountpoint] || strings.HasPrefix(p.Mountpoint, "/snap/") {
				continue
			}
			seen[p.Mountpoint] = true
			mounts = append(mounts, p.Mountpoint)
		}
		if len(mounts) == 0 {
			mounts = []string{"/"}
		}
	}

	reports := make([]types.DiskReport, 0, len(mounts))
	for _, mount := range mounts {
		usage, err := disk.UsageWithContext(ctx, mount)
		if err != nil {
			if len(c.mounts) > 0 {
				return nil, fmt.Errorf("failed to sample disk %s: %w", mount, err)
			}
			continue
		}
		used, total := toInt64(usage.Used), toInt64(usage.Total)
		if used > total {
			used = total
		}
		percent := clampPercent(usage.UsedPercent)
		reports = append(reports, types.DiskReport{
			Mount:   mount,
			Used:    &used,
			Total:   &total,
			Percent: &percent,
		})
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no disk could be sampled")
	}
	return reports, nil
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
