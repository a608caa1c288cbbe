package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/history"
)

// metricsCollector tracks sync activity across all markets
type metricsCollector struct {
	syncs         int64
	rounds        int64
	tradesFetched int64
	tradesAdded   int64
	resets        int64
	trimmed       int64
	errorCount    int64

	totalRoundTime int64 // nanoseconds

	mu        sync.RWMutex
	startTime time.Time
	lastSync  time.Time
}

// Metrics is a snapshot of collector activity
type Metrics struct {
	Syncs         int64 `json:"syncs"`
	Rounds        int64 `json:"rounds"`
	TradesFetched int64 `json:"trades_fetched"`
	TradesAdded   int64 `json:"trades_added"`
	// Resets counts logs replaced after a discontiguous batch
	Resets int64 `json:"resets"`
	// Trimmed counts trades dropped by retention trimming
	Trimmed      int64            `json:"trimmed"`
	ErrorCount   int64            `json:"error_count"`
	AvgRoundTime time.Duration    `json:"avg_round_time"`
	Markets      int              `json:"markets"`
	Uptime       time.Duration    `json:"uptime"`
	LastSync     time.Time        `json:"last_sync"`
	MemoryMB     int64            `json:"memory_mb"`
	WorkerPool   *WorkerPoolStats `json:"worker_pool,omitempty"`
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{startTime: time.Now()}
}

func (m *metricsCollector) recordRound(r history.Round) {
	atomic.AddInt64(&m.rounds, 1)
	atomic.AddInt64(&m.tradesFetched, int64(r.Fetched))
	atomic.AddInt64(&m.totalRoundTime, r.Elapsed.Nanoseconds())
	if r.Merge.Added > 0 {
		atomic.AddInt64(&m.tradesAdded, int64(r.Merge.Added))
	}
	if r.Reset {
		atomic.AddInt64(&m.resets, 1)
	}
	atomic.AddInt64(&m.trimmed, int64(r.Trimmed))
}

func (m *metricsCollector) recordSync() {
	atomic.AddInt64(&m.syncs, 1)
	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()
}

func (m *metricsCollector) recordError() {
	atomic.AddInt64(&m.errorCount, 1)
}

func (m *metricsCollector) snapshot() *Metrics {
	rounds := atomic.LoadInt64(&m.rounds)
	var avg time.Duration
	if rounds > 0 {
		avg = time.Duration(atomic.LoadInt64(&m.totalRoundTime) / rounds)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Metrics{
		Syncs:         atomic.LoadInt64(&m.syncs),
		Rounds:        rounds,
		TradesFetched: atomic.LoadInt64(&m.tradesFetched),
		TradesAdded:   atomic.LoadInt64(&m.tradesAdded),
		Resets:        atomic.LoadInt64(&m.resets),
		Trimmed:       atomic.LoadInt64(&m.trimmed),
		ErrorCount:    atomic.LoadInt64(&m.errorCount),
		AvgRoundTime:  avg,
		Uptime:        time.Since(m.startTime),
		LastSync:      m.lastSync,
	}
}
