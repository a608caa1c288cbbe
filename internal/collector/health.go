package collector

import (
	"context"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/exchange"
)

// CollectorStatus is the overall state reported by CheckHealth
type CollectorStatus string

const (
	StatusStopped  CollectorStatus = "stopped"
	StatusRunning  CollectorStatus = "running"
	StatusDegraded CollectorStatus = "degraded"
)

// HealthStatus is the result of CheckHealth
type HealthStatus struct {
	Status        CollectorStatus            `json:"status"`
	Healthy       bool                       `json:"healthy"`
	LastChecked   time.Time                  `json:"last_checked"`
	Components    map[string]ComponentHealth `json:"components"`
	Markets       int                        `json:"markets"`
	MemoryUsageMB int64                      `json:"memory_usage_mb"`
}

// ComponentHealth is the health of one dependency
type ComponentHealth struct {
	Name         string        `json:"name"`
	Healthy      bool          `json:"healthy"`
	LastError    string        `json:"last_error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}

// CheckHealth probes every dependency and reports them individually. Unlike
// Health it does not stop at the first failure.
func (c *Collector) CheckHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:      StatusStopped,
		Healthy:     true,
		LastChecked: time.Now(),
		Components:  make(map[string]ComponentHealth),
		Markets:     len(c.Markets()),
	}
	if c.workerPool.Running() {
		status.Status = StatusRunning
	}

	probe := func(name string, check func(context.Context) error) {
		start := time.Now()
		err := check(ctx)
		ch := ComponentHealth{Name: name, Healthy: err == nil, ResponseTime: time.Since(start)}
		if err != nil {
			ch.LastError = err.Error()
			status.Healthy = false
		}
		status.Components[name] = ch
	}

	if hc, ok := c.fetcher.(exchange.HealthChecker); ok {
		probe("exchange", hc.HealthCheck)
	}
	if c.store != nil {
		probe("storage", c.store.HealthCheck)
	}

	status.MemoryUsageMB = c.memoryMgmt.UsageMB()
	if c.memoryMgmt.IsOverLimit() {
		status.Healthy = false
	}
	if !status.Healthy && status.Status == StatusRunning {
		status.Status = StatusDegraded
	}
	return status
}
