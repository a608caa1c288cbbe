package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrPoolStopped is returned for jobs submitted to, or stranded in, a stopped pool
var ErrPoolStopped = errors.New("worker pool is shutting down")

// WorkerJob is one unit of work for the pool, typically a market sync
type WorkerJob struct {
	Market string
	Run    func(ctx context.Context) error
}

// WorkerPool runs jobs on a fixed set of workers. Each job waits on the shared
// rate limiter before it starts.
type WorkerPool struct {
	workerCount int
	rateLimiter *rate.Limiter
	logger      *slog.Logger

	jobQueue    chan *jobWrapper
	workerQueue chan chan *jobWrapper

	workers []*Worker
	quit    chan struct{}
	wg      sync.WaitGroup

	stats     *workerPoolStats
	isStarted int32
}

type jobWrapper struct {
	job      *WorkerJob
	callback func(error)
	ctx      context.Context
}

// Worker is a single worker in the pool
type Worker struct {
	ID          int
	WorkerQueue chan chan *jobWrapper
	JobChannel  chan *jobWrapper
	quit        <-chan struct{}
	rateLimiter *rate.Limiter
	logger      *slog.Logger
	pool        *workerPoolStats
}

type workerPoolStats struct {
	activeWorkers int32
	queuedJobs    int32
	runningJobs   int32
	completedJobs int64
	failedJobs    int64
	totalJobTime  int64 // nanoseconds
}

// WorkerPoolStats is a snapshot of pool activity
type WorkerPoolStats struct {
	ActiveWorkers  int           `json:"active_workers"`
	QueuedJobs     int           `json:"queued_jobs"`
	RunningJobs    int           `json:"running_jobs"`
	CompletedJobs  int64         `json:"completed_jobs"`
	FailedJobs     int64         `json:"failed_jobs"`
	AvgJobDuration time.Duration `json:"avg_job_duration"`
}

// NewWorkerPool creates a pool. A nil limiter means no rate limit.
func NewWorkerPool(workerCount int, rateLimiter *rate.Limiter, logger *slog.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if rateLimiter == nil {
		rateLimiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		workerCount: workerCount,
		rateLimiter: rateLimiter,
		logger:      logger,
		jobQueue:    make(chan *jobWrapper, workerCount*2),
		workerQueue: make(chan chan *jobWrapper, workerCount),
		quit:        make(chan struct{}),
		stats:       &workerPoolStats{},
	}
}

// Start launches the workers and the dispatcher
func (wp *WorkerPool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 0, 1) {
		return fmt.Errorf("worker pool is already started")
	}

	wp.logger.Info("starting worker pool", "worker_count", wp.workerCount)

	wp.workers = make([]*Worker, wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		worker := &Worker{
			ID:          i + 1,
			WorkerQueue: wp.workerQueue,
			JobChannel:  make(chan *jobWrapper),
			quit:        wp.quit,
			rateLimiter: wp.rateLimiter,
			logger:      wp.logger,
			pool:        wp.stats,
		}
		wp.workers[i] = worker
		wp.wg.Add(1)
		atomic.AddInt32(&wp.stats.activeWorkers, 1)
		go worker.Start(func() {
			atomic.AddInt32(&wp.stats.activeWorkers, -1)
			wp.wg.Done()
		})
	}

	wp.wg.Add(1)
	go wp.dispatch()
	return nil
}

// Stop shuts the pool down and waits for running jobs, or for ctx
func (wp *WorkerPool) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 1, 2) {
		return fmt.Errorf("worker pool is not started")
	}

	wp.logger.Info("stopping worker pool")
	close(wp.quit)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.drain()
		wp.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		wp.logger.Warn("worker pool stop timed out")
		return ctx.Err()
	}
}

// Running reports whether the pool accepts jobs
func (wp *WorkerPool) Running() bool {
	return atomic.LoadInt32(&wp.isStarted) == 1
}

// Submit queues a job. callback receives the job's result exactly once.
func (wp *WorkerPool) Submit(ctx context.Context, job *WorkerJob, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	if !wp.Running() {
		callback(ErrPoolStopped)
		return
	}

	atomic.AddInt32(&wp.stats.queuedJobs, 1)
	wrapper := &jobWrapper{job: job, callback: callback, ctx: ctx}

	select {
	case wp.jobQueue <- wrapper:
	case <-ctx.Done():
		atomic.AddInt32(&wp.stats.queuedJobs, -1)
		callback(ctx.Err())
	case <-wp.quit:
		atomic.AddInt32(&wp.stats.queuedJobs, -1)
		callback(ErrPoolStopped)
	}
}

// GetStats returns current pool statistics
func (wp *WorkerPool) GetStats() *WorkerPoolStats {
	completed := atomic.LoadInt64(&wp.stats.completedJobs)
	failed := atomic.LoadInt64(&wp.stats.failedJobs)

	var avg time.Duration
	if n := completed + failed; n > 0 {
		avg = time.Duration(atomic.LoadInt64(&wp.stats.totalJobTime) / n)
	}

	return &WorkerPoolStats{
		ActiveWorkers:  int(atomic.LoadInt32(&wp.stats.activeWorkers)),
		QueuedJobs:     int(atomic.LoadInt32(&wp.stats.queuedJobs)),
		RunningJobs:    int(atomic.LoadInt32(&wp.stats.runningJobs)),
		CompletedJobs:  completed,
		FailedJobs:     failed,
		AvgJobDuration: avg,
	}
}

// dispatch hands queued jobs to idle workers
func (wp *WorkerPool) dispatch() {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobQueue:
			atomic.AddInt32(&wp.stats.queuedJobs, -1)

			select {
			case jobChannel := <-wp.workerQueue:
				// the worker may have quit after registering as idle
				select {
				case jobChannel <- job:
				case <-wp.quit:
					job.callback(ErrPoolStopped)
					return
				}
			case <-wp.quit:
				job.callback(ErrPoolStopped)
				return
			}

		case <-wp.quit:
			return
		}
	}
}

// drain fails jobs left in the queue after shutdown
func (wp *WorkerPool) drain() {
	for {
		select {
		case job := <-wp.jobQueue:
			atomic.AddInt32(&wp.stats.queuedJobs, -1)
			job.callback(ErrPoolStopped)
		default:
			return
		}
	}
}

// Start registers the worker as idle and runs jobs until the pool quits
func (w *Worker) Start(done func()) {
	defer done()

	for {
		select {
		case w.WorkerQueue <- w.JobChannel:
		case <-w.quit:
			return
		}

		select {
		case job := <-w.JobChannel:
			w.processJob(job)
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) processJob(jw *jobWrapper) {
	start := time.Now()
	atomic.AddInt32(&w.pool.runningJobs, 1)
	defer atomic.AddInt32(&w.pool.runningJobs, -1)

	err := w.rateLimiter.Wait(jw.ctx)
	if err != nil {
		err = fmt.Errorf("rate limiting failed: %w", err)
	} else {
		err = jw.job.Run(jw.ctx)
	}

	duration := time.Since(start)
	atomic.AddInt64(&w.pool.totalJobTime, duration.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&w.pool.failedJobs, 1)
		w.logger.Debug("job failed",
			"worker_id", w.ID,
			"market", jw.job.Market,
			"duration", duration,
			"error", err)
	} else {
		atomic.AddInt64(&w.pool.completedJobs, 1)
		w.logger.Debug("job completed",
			"worker_id", w.ID,
			"market", jw.job.Market,
			"duration", duration)
	}

	jw.callback(err)
}
