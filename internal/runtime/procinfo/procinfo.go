// Package procinfo reads process and host resource usage for dashboards.
package procinfo

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type Snapshot struct {
	RSS          uint64  // resident set size of this process, bytes
	HostUsedPct  float64 // host memory in use, percent
	HostTotal    uint64
	NumGoroutine int
}

// RSS returns this process's resident memory, or 0 when unavailable.
func RSS(ctx context.Context) uint64 {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil || mi == nil {
		return 0
	}
	return mi.RSS
}

// Read collects a best-effort snapshot. Missing values stay zero.
func Read(ctx context.Context) Snapshot {
	s := Snapshot{RSS: RSS(ctx), NumGoroutine: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		s.HostUsedPct = vm.UsedPercent
		s.HostTotal = vm.Total
	}
	return s
}
