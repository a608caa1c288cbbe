// Package collector keeps the trade tapes of several markets in sync with the
// trade source.
//
// Each subscribed market has one history.History. A sync loads it from the
// store once, runs fetch rounds until the planner is satisfied, and saves it.
// Rounds are retried through the error classifier and guarded by a
// per-market circuit breaker. SyncAll fans markets out over a rate-limited
// worker pool, one job per market, so a market never has two syncs in flight.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/exchange"
	"github.com/johnayoung/go-trade-tape/internal/history"
	"github.com/johnayoung/go-trade-tape/internal/logger"
	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/johnayoung/go-trade-tape/internal/planner"
	"github.com/johnayoung/go-trade-tape/internal/storage"
)

const (
	DefaultWorkerCount = 4
	DefaultMaxRounds   = 100
	// DefaultRateLimit is the number of market syncs started per second
	DefaultRateLimit = 2
	// DefaultMemoryLimitMB is a soft limit, only reported on
	DefaultMemoryLimitMB = 512
)

// StopReason says why a sync ended
type StopReason string

const (
	StopSatisfied   StopReason = "satisfied"
	StopMinDuration StopReason = "min_duration"
	StopNoProgress  StopReason = "no_progress"
	StopMaxRounds   StopReason = "max_rounds"
	StopFailed      StopReason = "failed"
)

// SyncRequest parameterises one sync
type SyncRequest struct {
	// MinDuration ends the sync once the log covers this many seconds and the
	// head is fresh. 0 syncs until the planner is satisfied.
	MinDuration float64
	OnlyOld     bool
	Unbounded   bool
	// MaxRounds caps the fetch rounds of one sync. 0 uses the collector default.
	MaxRounds int
}

func (r SyncRequest) options() planner.Options {
	return planner.Options{OnlyOld: r.OnlyOld, Unbounded: r.Unbounded}
}

// SyncResult summarises one market sync
type SyncResult struct {
	Market   string        `json:"market"`
	Rounds   int           `json:"rounds"`
	Fetched  int           `json:"fetched"`
	Added    int           `json:"added"`
	Resets   int           `json:"resets"`
	Trimmed  int           `json:"trimmed"`
	Count    int           `json:"count"`
	Duration float64       `json:"duration"`
	Stopped  StopReason    `json:"stopped"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Config configures the collector
type Config struct {
	WorkerCount   int
	MaxRounds     int
	RateLimit     float64
	MemoryLimitMB int
	History       history.Options
	Logger        *slog.Logger
}

// DefaultConfig returns the collector defaults
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:   DefaultWorkerCount,
		MaxRounds:     DefaultMaxRounds,
		RateLimit:     DefaultRateLimit,
		MemoryLimitMB: DefaultMemoryLimitMB,
		Logger:        slog.Default(),
	}
}

type marketEntry struct {
	history *history.History
	// syncMu serialises whole syncs; the history lock only covers one round
	syncMu sync.Mutex
	loaded bool
}

// Collector orchestrates syncs over the subscribed markets
type Collector struct {
	config     *Config
	fetcher    exchange.TradeHistoryFetcher
	store      storage.TradeLogStore
	classifier *apperrors.ErrorClassifier

	workerPool *WorkerPool
	metrics    *metricsCollector
	memoryMgmt *memoryManager

	mu      sync.RWMutex
	markets map[string]*marketEntry

	isRunning int32
	logger    *slog.Logger
}

// New creates a collector. store may be nil for a collector that never
// persists; classifier may be nil to use the default retry policy.
func New(fetcher exchange.TradeHistoryFetcher, store storage.TradeLogStore, classifier *apperrors.ErrorClassifier, cfg *Config) *Collector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	l := cfg.Logger.With("component", "collector")
	if classifier == nil {
		classifier = apperrors.NewErrorClassifier(config.DefaultConfig().ErrorHandling, cfg.Logger)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.WorkerCount)
	return &Collector{
		config:     cfg,
		fetcher:    fetcher,
		store:      store,
		classifier: classifier,
		workerPool: NewWorkerPool(cfg.WorkerCount, limiter, l),
		metrics:    newMetricsCollector(),
		memoryMgmt: newMemoryManager(cfg.MemoryLimitMB, l),
		markets:    make(map[string]*marketEntry),
		logger:     l,
	}
}

// Start starts the worker pool used by SyncAll
func (c *Collector) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.isRunning, 0, 1) {
		return fmt.Errorf("collector is already running")
	}
	if err := c.workerPool.Start(ctx); err != nil {
		atomic.StoreInt32(&c.isRunning, 0)
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	c.logger.Info("collector started",
		"worker_count", c.config.WorkerCount,
		"rate_limit", c.config.RateLimit,
		"max_rounds", c.config.MaxRounds)
	return nil
}

// Stop stops the worker pool, waiting for in-flight syncs or ctx
func (c *Collector) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.isRunning, 1, 0) {
		return fmt.Errorf("collector is not running")
	}
	return c.workerPool.Stop(ctx)
}

// Health checks the source and the store
func (c *Collector) Health(ctx context.Context) error {
	if hc, ok := c.fetcher.(exchange.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("exchange health check failed: %w", err)
		}
	}
	if c.store != nil {
		if err := c.store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("storage health check failed: %w", err)
		}
	}
	if c.memoryMgmt.IsOverLimit() {
		return fmt.Errorf("memory usage exceeds limit: %dMB", c.memoryMgmt.UsageMB())
	}
	return nil
}

// Subscribe starts tracking market and returns its history. Subscribing
// twice returns the same history.
func (c *Collector) Subscribe(market string) (*history.History, error) {
	m, err := models.ParseMarket(market)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidMarket, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.markets[m.String()]; ok {
		return entry.history, nil
	}
	h := history.New(m, c.fetcher, c.store, c.config.History, c.config.Logger)
	c.markets[m.String()] = &marketEntry{history: h}
	c.logger.Info("subscribed market", "market", m.String(), "name", m.FriendlyName())
	return h, nil
}

// History returns the history of a subscribed market
func (c *Collector) History(market string) (*history.History, error) {
	entry, err := c.entry(market)
	if err != nil {
		return nil, err
	}
	return entry.history, nil
}

// Markets lists the subscribed markets, sorted
func (c *Collector) Markets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	markets := make([]string, 0, len(c.markets))
	for m := range c.markets {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	return markets
}

func (c *Collector) entry(market string) (*marketEntry, error) {
	m, err := models.ParseMarket(market)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidMarket, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.markets[m.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", m, apperrors.ErrMarketNotSubscribed)
	}
	return entry, nil
}

// Open subscribes market and loads its persisted log without fetching
func (c *Collector) Open(ctx context.Context, market string) (*history.History, error) {
	if _, err := c.Subscribe(market); err != nil {
		return nil, err
	}
	entry, err := c.entry(market)
	if err != nil {
		return nil, err
	}
	entry.syncMu.Lock()
	defer entry.syncMu.Unlock()

	if err := c.ensureLoaded(ctx, entry); err != nil {
		return nil, err
	}
	return entry.history, nil
}

// ensureLoaded loads the log from the store the first time; callers hold syncMu
func (c *Collector) ensureLoaded(ctx context.Context, entry *marketEntry) error {
	if entry.loaded || c.store == nil {
		return nil
	}
	if err := entry.history.Load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", entry.history.Market(), err)
	}
	entry.loaded = true
	return nil
}

// Sync brings one subscribed market up to date. The log is loaded from the
// store on the first sync and saved after any sync that changed it, even one
// that ends in an error.
func (c *Collector) Sync(ctx context.Context, market string, req SyncRequest) (SyncResult, error) {
	entry, err := c.entry(market)
	if err != nil {
		return SyncResult{Market: market, Stopped: StopFailed}, err
	}
	entry.syncMu.Lock()
	defer entry.syncMu.Unlock()

	h := entry.history
	ctx = logger.WithMarket(ctx, h.Market().String())
	log := logger.FromContext(ctx, c.logger)
	start := time.Now()
	result := SyncResult{Market: h.Market().String()}

	if err := c.ensureLoaded(ctx, entry); err != nil {
		c.metrics.recordError()
		result.Stopped = StopFailed
		return result, err
	}

	changed, loopErr := c.runRounds(ctx, h, req, &result)

	var saveErr error
	if changed && c.store != nil {
		if saveErr = h.Save(ctx); saveErr != nil {
			saveErr = fmt.Errorf("save %s: %w", h.Market(), saveErr)
		}
	}

	result.Count = h.Count()
	result.Duration = h.Duration()
	result.Elapsed = time.Since(start)
	c.metrics.recordSync()

	if err := errors.Join(loopErr, saveErr); err != nil {
		c.metrics.recordError()
		result.Stopped = StopFailed
		log.Error("sync failed",
			"rounds", result.Rounds,
			"count", result.Count,
			"error", err)
		return result, err
	}

	log.Info("sync complete",
		"rounds", result.Rounds,
		"fetched", result.Fetched,
		"added", result.Added,
		"resets", result.Resets,
		"count", result.Count,
		"hours", result.Duration/3600,
		"stopped", result.Stopped,
		"elapsed", result.Elapsed)
	return result, nil
}

// runRounds loops fetch rounds and reports whether any of them changed the log
func (c *Collector) runRounds(ctx context.Context, h *history.History, req SyncRequest, result *SyncResult) (bool, error) {
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = c.config.MaxRounds
	}
	opts := req.options()
	breaker := c.classifier.CircuitBreaker(h.Market().String())
	changed := false

	for result.Rounds < maxRounds {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		var round history.Round
		err := c.classifier.Retry(ctx, "collector", "fetch_round", func() error {
			return breaker.Call(func() error {
				var err error
				round, err = h.FetchRound(ctx, opts)
				return err
			})
		})
		if err != nil {
			return changed, err
		}

		if !round.Plan.Fetch() {
			result.Stopped = StopSatisfied
			return changed, nil
		}

		result.Rounds++
		result.Fetched += round.Fetched
		result.Added += round.Merge.Added
		result.Trimmed += round.Trimmed
		if round.Reset {
			result.Resets++
		}
		c.metrics.recordRound(round)

		if !round.Changed() {
			// a quiet market keeps the head stale; backfill for the rest of the sync
			if round.Plan.State == planner.StateStaleHead && !opts.OnlyOld {
				opts.OnlyOld = true
				continue
			}
			result.Stopped = StopNoProgress
			return changed, nil
		}
		changed = true

		if req.MinDuration > 0 && h.Duration() >= req.MinDuration &&
			h.Plan(opts).State != planner.StateStaleHead {
			result.Stopped = StopMinDuration
			return changed, nil
		}
	}

	result.Stopped = StopMaxRounds
	return changed, nil
}

// SyncAll subscribes and syncs markets in parallel on the worker pool. Every
// market is attempted; the failures are joined into the returned error.
func (c *Collector) SyncAll(ctx context.Context, markets []string, req SyncRequest) ([]SyncResult, error) {
	if atomic.LoadInt32(&c.isRunning) == 0 {
		return nil, fmt.Errorf("collector is not running")
	}

	results := make([]SyncResult, len(markets))
	errs := make([]error, len(markets))
	var wg sync.WaitGroup

	for i, market := range markets {
		if _, err := c.Subscribe(market); err != nil {
			results[i] = SyncResult{Market: market, Stopped: StopFailed}
			errs[i] = err
			continue
		}

		wg.Add(1)
		job := &WorkerJob{
			Market: market,
			Run: func(ctx context.Context) error {
				var err error
				results[i], err = c.Sync(ctx, market, req)
				return err
			},
		}
		c.workerPool.Submit(ctx, job, func(err error) {
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", market, err)
				if results[i].Market == "" {
					results[i] = SyncResult{Market: market, Stopped: StopFailed}
				}
			}
			wg.Done()
		})
	}
	wg.Wait()

	c.memoryMgmt.CheckAndReport(len(c.Markets()))
	return results, errors.Join(errs...)
}

// GetMetrics returns a snapshot of collector activity
func (c *Collector) GetMetrics() *Metrics {
	m := c.metrics.snapshot()
	m.Markets = len(c.Markets())
	m.MemoryMB = c.memoryMgmt.UsageMB()
	m.WorkerPool = c.workerPool.GetStats()
	return m
}
