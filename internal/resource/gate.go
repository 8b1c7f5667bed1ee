package resource

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/logger"
)

// defaultCacheTTL bounds how often the host counters are re-read when the
// executor dispatch loop polls the gate.
const defaultCacheTTL = 250 * time.Millisecond

// Gate evaluates whether a worker may start a task given the configured
// CPU and memory thresholds. Resource pressure causes admission deferral,
// not rejection.
type Gate struct {
	sampler       Sampler
	maxCPUPercent float64
	maxMemoryMB   float64
	logger        logger.Interface

	mu        sync.Mutex
	last      domain.ResourceSnapshot
	lastErr   error
	sampledAt time.Time
	cacheTTL  time.Duration
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithCacheTTL sets how long a sample is reused before re-sampling.
func WithCacheTTL(ttl time.Duration) GateOption {
	return func(g *Gate) {
		g.cacheTTL = ttl
	}
}

// NewGate creates a resource gate with the given thresholds.
// A zero threshold disables that check.
func NewGate(sampler Sampler, limits domain.ResourceLimits, log logger.Interface, opts ...GateOption) *Gate {
	g := &Gate{
		sampler:       sampler,
		maxCPUPercent: limits.MaxCPUPercent,
		maxMemoryMB:   limits.MaxMemoryMB,
		logger:        log,
		cacheTTL:      defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow reports whether a new task may start, along with the snapshot the
// decision was based on. Sampler failures admit work: the gate protects
// against overload, it must not wedge the executor when counters are
// unreadable.
func (g *Gate) Allow(ctx context.Context) (bool, domain.ResourceSnapshot) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		g.logger.Warn("resource sampling failed, admitting work",
			logger.Error(err),
		)
		return true, snap
	}

	if g.maxCPUPercent > 0 && snap.CPUPercent >= g.maxCPUPercent {
		g.logger.Warn("cpu above threshold, deferring admission",
			logger.Float64("cpu_percent", snap.CPUPercent),
			logger.Float64("max_cpu_percent", g.maxCPUPercent),
		)
		return false, snap
	}

	if g.maxMemoryMB > 0 && snap.MemoryMB >= g.maxMemoryMB {
		g.logger.Warn("memory above threshold, deferring admission",
			logger.Float64("memory_mb", snap.MemoryMB),
			logger.Float64("max_memory_mb", g.maxMemoryMB),
		)
		return false, snap
	}

	return true, snap
}

// Snapshot returns the current resource usage, reusing a recent sample
// within the cache TTL.
func (g *Gate) Snapshot(ctx context.Context) (domain.ResourceSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.sampledAt) < g.cacheTTL && !g.sampledAt.IsZero() {
		return g.last, g.lastErr
	}

	snap, err := g.sampler.Sample(ctx)
	g.last = snap
	g.lastErr = err
	g.sampledAt = time.Now()
	return snap, err
}
