package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// SystemCollector samples host memory and CPU, caching the reading for
// collectInterval.
type SystemCollector struct {
	log             zerolog.Logger
	collectInterval time.Duration

	mu              sync.Mutex
	lastCollectTime time.Time
	cachedCPU       float64
	cachedMemory    int64
}

func NewSystemCollector(log zerolog.Logger, collectInterval time.Duration) *SystemCollector {
	if collectInterval == 0 {
		collectInterval = 5 * time.Second
	}
	return &SystemCollector{
		log:             log.With().Str("component", "metrics").Logger(),
		collectInterval: collectInterval,
	}
}

// GetSystemMetrics returns the current memory use in bytes and CPU percent.
func (c *SystemCollector) GetSystemMetrics() (memory int64, cpuPercent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastCollectTime) > c.collectInterval {
		c.collectMetrics()
	}
	return c.cachedMemory, c.cachedCPU
}

func (c *SystemCollector) collectMetrics() {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to get memory info")
		c.cachedMemory = 0
	} else {
		c.cachedMemory = int64(memInfo.Used)
	}

	// interval 0 compares against the previous call instead of sleeping
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to get CPU info")
		c.cachedCPU = 0
	} else if len(cpuPercent) > 0 {
		c.cachedCPU = cpuPercent[0]
	}

	c.lastCollectTime = time.Now()
	c.log.Debug().
		Int64("memory_bytes", c.cachedMemory).
		Float64("cpu_percent", c.cachedCPU).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("System metrics collected")
}
