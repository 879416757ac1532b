// Package scanner collects host resource metrics. Every sub-probe is
// isolated: a failing or hung probe zeroes its own fields and tags the
// result, it never aborts the scan. The scanner is read-only with
// respect to the host.
package scanner

import "time"

// Depth selects how much a scan collects.
type Depth string

const (
	// Quick collects CPU, memory and disk only.
	Quick Depth = "quick"
	// Full adds process enumeration and network counters.
	Full Depth = "full"
)

// Probe names used for error tagging on a Result.
const (
	ProbeCPU     = "cpu"
	ProbeMemory  = "memory"
	ProbeDisk    = "disk"
	ProbeProcess = "process"
	ProbeNetwork = "network"
)

// MemoryStats is the memory portion of a scan.
type MemoryStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// DiskStats is one volume's usage.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// ProcessInfo is one entry of the top-N process list.
type ProcessInfo struct {
	PID      int32   `json:"pid"`
	Name     string  `json:"name"`
	RSSBytes uint64  `json:"rss_bytes"`
	MemPct   float32 `json:"mem_pct"`
}

// NetworkStats holds coarse host-wide network counters.
type NetworkStats struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// Result is one scan's output. Failed probes leave their fields zeroed
// and record the failure under Errors, keyed by probe name.
type Result struct {
	Timestamp  time.Time         `json:"timestamp"`
	Depth      Depth             `json:"depth"`
	CPUPercent float64           `json:"cpu_percent"`
	Memory     MemoryStats       `json:"memory"`
	Disks      []DiskStats       `json:"disks"`
	Processes  []ProcessInfo     `json:"processes,omitempty"`
	Network    *NetworkStats     `json:"network,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Partial    bool              `json:"partial"`
}

// Failed reports whether every core probe of the scan failed. A result
// with at least one good core probe is usable.
func (r *Result) Failed() bool {
	if len(r.Errors) == 0 {
		return false
	}
	for _, probe := range []string{ProbeCPU, ProbeMemory, ProbeDisk} {
		if _, bad := r.Errors[probe]; !bad {
			return false
		}
	}
	return true
}

// MaxDiskPercent returns the highest per-volume usage, 0 when no
// volumes were collected.
func (r *Result) MaxDiskPercent() float64 {
	var max float64
	for _, d := range r.Disks {
		if d.UsedPercent > max {
			max = d.UsedPercent
		}
	}
	return max
}
