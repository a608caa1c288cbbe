package collector

import (
	"log/slog"
	"runtime"
	"sync"
)

// memoryManager watches heap usage against a soft limit
type memoryManager struct {
	limitMB     int64
	logger      *slog.Logger
	mu          sync.Mutex
	lastUsageMB int64
}

func newMemoryManager(limitMB int, logger *slog.Logger) *memoryManager {
	return &memoryManager{
		limitMB: int64(limitMB),
		logger:  logger,
	}
}

// UsageMB returns the current heap allocation in MB
func (mm *memoryManager) UsageMB() int64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	usage := int64(memStats.Alloc / 1024 / 1024)

	mm.mu.Lock()
	mm.lastUsageMB = usage
	mm.mu.Unlock()
	return usage
}

// IsOverLimit reports whether usage exceeds the limit. A non-positive limit
// disables the check.
func (mm *memoryManager) IsOverLimit() bool {
	return mm.limitMB > 0 && mm.UsageMB() > mm.limitMB
}

// CheckAndReport logs usage after a sync cycle and warns above 80% of the limit
func (mm *memoryManager) CheckAndReport(markets int) {
	usage := mm.UsageMB()
	mm.logger.Debug("memory usage", "alloc_mb", usage, "limit_mb", mm.limitMB, "markets", markets)

	if mm.limitMB > 0 && float64(usage) > float64(mm.limitMB)*0.8 {
		mm.logger.Warn("memory usage approaching limit",
			"current_mb", usage,
			"limit_mb", mm.limitMB,
			"markets", markets)
	}
}
