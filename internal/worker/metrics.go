package worker

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"ffarm/internal/api"
)

// SampleMetrics reads host utilisation for a heartbeat. Probes that fail are
// left at zero.
func SampleMetrics(ctx context.Context) *api.WorkerMetrics {
	metrics := &api.WorkerMetrics{}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		metrics.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics.LoadAverage = avg.Load1
	}
	return metrics
}
