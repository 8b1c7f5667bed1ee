// Package resource provides host resource sampling and the admission gate
// that defers new work when CPU or memory usage exceeds configured limits.
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jonesrussell/godispatch/internal/domain"
)

const bytesPerMB = 1024 * 1024

// Sampler produces resource snapshots. The system sampler reads host
// counters; tests substitute a stub.
type Sampler interface {
	Sample(ctx context.Context) (domain.ResourceSnapshot, error)
}

// SystemSampler samples host CPU and memory via gopsutil.
type SystemSampler struct{}

// NewSystemSampler creates a sampler backed by host counters.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{}
}

// Sample reads current host CPU utilization and used memory.
// CPU percent is computed against the interval since the previous call.
func (s *SystemSampler) Sample(ctx context.Context) (domain.ResourceSnapshot, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return domain.ResourceSnapshot{}, fmt.Errorf("sample cpu: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return domain.ResourceSnapshot{}, fmt.Errorf("sample memory: %w", err)
	}

	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	return domain.ResourceSnapshot{
		CPUPercent: cpuPercent,
		MemoryMB:   float64(vm.Used) / bytesPerMB,
		SampledAt:  time.Now(),
	}, nil
}
