package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	pool := NewPool(5, 10)
	require.NotNil(t, pool)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 10, cap(pool.jobs))
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_RunsAllJobs(t *testing.T) {
	pool := NewPool(2, 10)

	var ran int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(context.Context) {
			atomic.AddInt32(&ran, 1)
		}))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}

func TestPool_BoundedConcurrency(t *testing.T) {
	pool := NewPool(3, 20)

	var mu sync.Mutex
	active, maxActive := 0, 0
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(context.Context) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.LessOrEqual(t, maxActive, 3)
	assert.Equal(t, 0, active)
}

func TestPool_FullQueue(t *testing.T) {
	pool := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, pool.Submit(func(context.Context) {}))

	assert.ErrorIs(t, pool.Submit(func(context.Context) {}), ErrPoolFull)

	close(release)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 1)
	require.NoError(t, pool.Stop(context.Background()))

	assert.ErrorIs(t, pool.Submit(func(context.Context) {}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(context.Background()), "stop is idempotent")
}

func TestPool_StopTimeoutCancelsJobs(t *testing.T) {
	pool := NewPool(1, 1)
	cancelled := make(chan struct{})

	require.NoError(t, pool.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := NewPool(1, 2)

	var ran int32
	require.NoError(t, pool.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, pool.Submit(func(context.Context) { atomic.AddInt32(&ran, 1) }))

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
