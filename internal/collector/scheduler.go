package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/johnayoung/go-trade-tape/internal/config"
	"github.com/johnayoung/go-trade-tape/internal/logger"
)

// DefaultCronSpec syncs every five minutes, on the minute
const DefaultCronSpec = "0 */5 * * * *"

// Scheduler runs SyncAll over a fixed set of markets on a cron schedule.
// A run that is still going when the next one fires causes that one to be
// skipped.
type Scheduler struct {
	cron      *cron.Cron
	collector *Collector
	markets   []string
	request   SyncRequest
	spec      string
	entryID   cron.EntryID
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	isRunning int32
	runs      int64
	failures  int64

	mu      sync.RWMutex
	lastRun time.Time
	lastErr error
}

// SchedulerStats is a snapshot of scheduler activity
type SchedulerStats struct {
	Running  bool      `json:"running"`
	Spec     string    `json:"spec"`
	Markets  []string  `json:"markets"`
	Runs     int64     `json:"runs"`
	Failures int64     `json:"failures"`
	LastRun  time.Time `json:"last_run"`
	NextRun  time.Time `json:"next_run"`
	LastErr  string    `json:"last_error,omitempty"`
}

// NewScheduler registers the sync job. The spec has six fields, seconds first.
func NewScheduler(c *Collector, cfg config.SchedulerConfig, req SyncRequest, l *slog.Logger) (*Scheduler, error) {
	if l == nil {
		l = slog.Default()
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("scheduler needs at least one market")
	}
	spec := cfg.Cron
	if spec == "" {
		spec = DefaultCronSpec
	}

	l = l.With("component", "scheduler")
	cronLogger := slogCronLogger{l}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		collector: c,
		markets:   append([]string(nil), cfg.Markets...),
		request:   req,
		spec:      spec,
		logger:    l,
	}

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("register sync job %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins firing the job. ctx bounds every run.
func (s *Scheduler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 0, 1) {
		return fmt.Errorf("scheduler is already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", "spec", s.spec, "markets", s.markets)
	return nil
}

// Stop cancels the running sync, if any, and waits for it or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 1, 0) {
		return fmt.Errorf("scheduler is not running")
	}
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// RunNow performs one sync cycle immediately, outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.cycle(ctx)
}

// Stats returns a snapshot of scheduler activity
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SchedulerStats{
		Running:  atomic.LoadInt32(&s.isRunning) == 1,
		Spec:     s.spec,
		Markets:  append([]string(nil), s.markets...),
		Runs:     atomic.LoadInt64(&s.runs),
		Failures: atomic.LoadInt64(&s.failures),
		LastRun:  s.lastRun,
		NextRun:  s.cron.Entry(s.entryID).Next,
	}
	if s.lastErr != nil {
		stats.LastErr = s.lastErr.Error()
	}
	return stats
}

func (s *Scheduler) run() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) error {
	ctx = logger.WithCycleID(ctx, logger.NewCycleID())
	log := logger.FromContext(ctx, s.logger)
	start := time.Now()
	atomic.AddInt64(&s.runs, 1)

	results, err := s.collector.SyncAll(ctx, s.markets, s.request)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		atomic.AddInt64(&s.failures, 1)
		log.Error("sync cycle failed", "duration", time.Since(start), "error", err)
		return err
	}

	var added, rounds int
	for _, r := range results {
		added += r.Added
		rounds += r.Rounds
	}
	log.Info("sync cycle complete",
		"markets", len(results),
		"rounds", rounds,
		"added", added,
		"duration", time.Since(start))
	return nil
}

// slogCronLogger adapts slog to cron.Logger
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
