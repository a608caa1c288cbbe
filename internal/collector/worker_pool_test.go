package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(2, nil, nil)
	require.NoError(t, pool.Start(ctx))

	var (
		ran int32
		wg  sync.WaitGroup
	)
	for _, market := range []string{"BTC_ETH", "BTC_XMR", "BTC_LTC"} {
		wg.Add(1)
		pool.Submit(ctx, &WorkerJob{
			Market: market,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		}, func(err error) {
			assert.NoError(t, err)
			wg.Done()
		})
	}
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&ran))
	assert.Equal(t, int64(3), pool.GetStats().CompletedJobs)
	require.NoError(t, pool.Stop(ctx))

	var stopped error
	pool.Submit(ctx, &WorkerJob{Market: "BTC_ETH"}, func(err error) { stopped = err })
	assert.ErrorIs(t, stopped, ErrPoolStopped)
}

func TestWorkerPoolDispatchFailsJobForGoneWorker(t *testing.T) {
	pool := NewWorkerPool(1, nil, nil)

	// an idle registration whose worker never reads again
	pool.workerQueue <- make(chan *jobWrapper)

	pool.wg.Add(1)
	go pool.dispatch()

	result := make(chan error, 1)
	atomic.AddInt32(&pool.stats.queuedJobs, 1)
	pool.jobQueue <- &jobWrapper{
		job:      &WorkerJob{Market: "BTC_ETH"},
		callback: func(err error) { result <- err },
		ctx:      context.Background(),
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&pool.stats.queuedJobs) == 0
	}, time.Second, time.Millisecond)

	close(pool.quit)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrPoolStopped)
	case <-time.After(time.Second):
		t.Fatal("job callback never ran")
	}

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not exit")
	}
}
