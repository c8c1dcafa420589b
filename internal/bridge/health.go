package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthStats holds the host metrics sampled alongside the bridge's
// reconnect loop, grounded on the teacher's SystemMonitor — same metrics
// library, same sample-on-ticker shape, minus the disk usage gauge, which
// has no component here worth reporting it to (cpu/mem/load are what help
// judge whether the host itself is the reason the bridge keeps dropping).
type HealthStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage1  float64
	SampledAt     time.Time
}

// HealthSampler periodically collects HealthStats on its own goroutine.
type HealthSampler struct {
	logger *slog.Logger
	period time.Duration

	mu    sync.RWMutex
	stats HealthStats
}

// NewHealthSampler builds a sampler collecting every period.
func NewHealthSampler(period time.Duration, logger *slog.Logger) *HealthSampler {
	return &HealthSampler{
		logger: logger.With("component", "health_sampler"),
		period: period,
	}
}

// Run collects immediately, then on every tick, until ctx is cancelled.
func (h *HealthSampler) Run(ctx context.Context) {
	h.collect()

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.collect()
		}
	}
}

// SampleOnce collects a single sample synchronously and returns it, without
// waiting for the ticker loop.
func (h *HealthSampler) SampleOnce() HealthStats {
	h.collect()
	return h.Stats()
}

// Stats returns the most recently collected sample.
func (h *HealthSampler) Stats() HealthStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func (h *HealthSampler) collect() {
	var stats HealthStats
	stats.SampledAt = time.Now()

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		h.logger.Debug("collecting cpu stats failed", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		h.logger.Debug("collecting memory stats failed", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1 = l.Load1
	} else {
		h.logger.Debug("collecting load stats failed", "error", err)
	}

	h.mu.Lock()
	h.stats = stats
	h.mu.Unlock()
}
