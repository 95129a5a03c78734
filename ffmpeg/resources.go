package ffmpeg

import (
	"fmt"
	"time"

	"ffscript/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds gate job starts on host capacity. Zero disables a check.
type Thresholds struct {
	IdleCPU  float64
	FreeMem  int64
	FreeDisk int64
}

// checkResources verifies that the system has enough free resources to start a new job.
func checkResources(th Thresholds, dir string) error {
	if th.IdleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			logger.Warn("could not get CPU usage", "engine", map[string]interface{}{"error": err.Error()})
		} else if len(p) > 0 && p[0] > (100.0-th.IdleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], th.IdleCPU)
		}
	}

	if th.FreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			logger.Warn("could not get memory usage", "engine", map[string]interface{}{"error": err.Error()})
		} else if vm.Available < uint64(th.FreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, th.FreeMem)
		}
	}

	if th.FreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			logger.Warn("could not get disk usage", "engine", map[string]interface{}{"dir": dir, "error": err.Error()})
		} else if d.Free < uint64(th.FreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, th.FreeDisk)
		}
	}
	return nil
}

// HostStats is a point-in-time view of host capacity.
type HostStats struct {
	CPUPercent   float64 `json:"cpuPercent"`
	MemAvailable uint64  `json:"memAvailable"`
	DiskFree     uint64  `json:"diskFree,omitempty"`
}

// ReadHostStats samples host usage without blocking. Unavailable figures stay zero.
func ReadHostStats(dir string) HostStats {
	var s HostStats
	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		s.CPUPercent = p[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemAvailable = vm.Available
	}
	if dir != "" {
		if d, err := disk.Usage(dir); err == nil {
			s.DiskFree = d.Free
		}
	}
	return s
}
