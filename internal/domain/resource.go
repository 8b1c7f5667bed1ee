package domain

import "time"

// ResourceSnapshot captures host resource usage at a point in time.
type ResourceSnapshot struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ResourceLimits holds the process-wide execution limits.
// Set at startup, immutable thereafter.
type ResourceLimits struct {
	MaxCPUPercent        float64       `json:"max_cpu_percent"`
	MaxMemoryMB          float64       `json:"max_memory_mb"`
	MaxConcurrentWorkers int           `json:"max_concurrent_workers"`
	MaxQueueDepth        int           `json:"max_queue_depth"`
	MaxJobRuntime        time.Duration `json:"max_job_runtime"`
}
