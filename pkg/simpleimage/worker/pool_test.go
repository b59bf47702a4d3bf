package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage/worker"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestPoolRunsTasks(t *testing.T) {
	pool := worker.New(worker.DefaultConfig())
	defer pool.Close(context.Background())

	var count atomic.Int64
	var dones []<-chan struct{}
	for i := 0; i < 20; i++ {
		done, err := pool.Submit(func(ctx context.Context) {
			count.Add(1)
		})
		require.NoError(t, err)
		dones = append(dones, done)
	}
	for _, d := range dones {
		waitDone(t, d)
	}
	assert.Equal(t, int64(20), count.Load())
}

func TestPoolCallerRunsWhenSaturated(t *testing.T) {
	pool := worker.New(worker.Config{CoreWorkers: 1, MaxWorkers: 2, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	block := func(ctx context.Context) {
		started <- struct{}{}
		<-release
	}

	// core worker
	_, err := pool.Submit(block)
	require.NoError(t, err)
	<-started

	// queued behind the core worker
	_, err = pool.Submit(func(ctx context.Context) {})
	require.NoError(t, err)

	// burst worker
	_, err = pool.Submit(block)
	require.NoError(t, err)
	<-started

	// nothing left: runs on this goroutine
	var ranOnCaller bool
	done, err := pool.Submit(func(ctx context.Context) {
		ranOnCaller = true
	})
	require.NoError(t, err)
	assert.True(t, ranOnCaller, "task should have completed before Submit returned")
	waitDone(t, done)

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Bursts)
	assert.Equal(t, int64(1), stats.CallerRuns)

	close(release)
	require.NoError(t, pool.Close(context.Background()))
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	pool := worker.New(worker.Config{CoreWorkers: 2, MaxWorkers: 2, QueueSize: 50})

	var mu sync.Mutex
	var finished int
	for i := 0; i < 30; i++ {
		_, err := pool.Submit(func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	require.NoError(t, pool.Close(context.Background()))
	assert.Equal(t, 30, finished)

	_, err := pool.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, worker.ErrPoolClosed)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := worker.New(worker.Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer pool.Close(context.Background())

	done, err := pool.Submit(func(ctx context.Context) { panic("boom") })
	require.NoError(t, err)
	waitDone(t, done)

	var ran atomic.Bool
	done, err = pool.Submit(func(ctx context.Context) { ran.Store(true) })
	require.NoError(t, err)
	waitDone(t, done)
	assert.True(t, ran.Load())
}
