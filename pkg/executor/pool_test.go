// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

// blocker returns a task that parks until release is closed and records
// the peak number of concurrently running tasks.
func blocker(release <-chan struct{}, running, peak *atomic.Int64) Task {
	return func(ctx context.Context) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		defer running.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := []Config{
		{CorePoolSize: -1, MaxPoolSize: 1, KeepAlive: time.Second},
		{CorePoolSize: 0, MaxPoolSize: 0, KeepAlive: time.Second},
		{CorePoolSize: 5, MaxPoolSize: 2, KeepAlive: time.Second},
		{CorePoolSize: 1, MaxPoolSize: 2, QueueCapacity: -1, KeepAlive: time.Second},
		{CorePoolSize: 1, MaxPoolSize: 2},
	}
	for _, cfg := range bad {
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "config %+v", cfg)
	}
}

func TestSubmitRunsTask(t *testing.T) {
	p := newPool(t, DefaultConfig())

	fut, err := p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, fut.Wait(context.Background()))

	boom := errors.New("boom")
	fut, err = p.Submit(func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, fut.Wait(context.Background()), boom)
}

func TestCoreSizeNotExceededForFewTasks(t *testing.T) {
	p := newPool(t, DefaultConfig())
	release := make(chan struct{})
	var running, peak atomic.Int64

	futures := make([]*Future, 0, 5)
	for i := 0; i < 5; i++ {
		fut, err := p.Submit(blocker(release, &running, &peak))
		require.NoError(t, err)
		futures = append(futures, fut)
	}

	assert.Equal(t, 5, p.PoolSize())
	close(release)
	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.Equal(t, 5, p.LargestPoolSize())
}

func TestQueueThenGrowThenReject(t *testing.T) {
	p := newPool(t, Config{CorePoolSize: 2, MaxPoolSize: 4, QueueCapacity: 2, KeepAlive: time.Minute})
	release := make(chan struct{})
	var running, peak atomic.Int64

	for i := 0; i < 2; i++ {
		_, err := p.Submit(blocker(release, &running, &peak))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.PoolSize())

	for i := 0; i < 2; i++ {
		_, err := p.Submit(blocker(release, &running, &peak))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.PoolSize(), "queued tasks must not grow the pool")
	assert.Equal(t, 2, p.QueueLen())

	for i := 0; i < 2; i++ {
		_, err := p.Submit(blocker(release, &running, &peak))
		require.NoError(t, err)
	}
	assert.Equal(t, 4, p.PoolSize())

	_, err := p.Submit(blocker(release, &running, &peak))
	assert.ErrorIs(t, err, ErrPoolSaturated)

	close(release)
	require.Eventually(t, func() bool { return p.CompletedCount() == 6 }, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int64(4))
}

func TestConcurrencyNeverExceedsMax(t *testing.T) {
	p := newPool(t, DefaultConfig())
	release := make(chan struct{})
	var running, peak atomic.Int64

	accepted := 0
	for i := 0; i < 200; i++ {
		if _, err := p.Submit(blocker(release, &running, &peak)); err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrPoolSaturated)
		}
	}

	assert.Equal(t, 15+100, accepted)
	assert.Equal(t, 15, p.PoolSize())

	close(release)
	require.Eventually(t, func() bool { return p.CompletedCount() == int64(accepted) }, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int64(15))
	assert.LessOrEqual(t, p.LargestPoolSize(), 15)
}

func TestIdleWorkersAboveCoreRetire(t *testing.T) {
	p := newPool(t, Config{CorePoolSize: 1, MaxPoolSize: 3, QueueCapacity: 0, KeepAlive: 20 * time.Millisecond})
	release := make(chan struct{})
	var running, peak atomic.Int64

	for i := 0; i < 3; i++ {
		_, err := p.Submit(blocker(release, &running, &peak))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.PoolSize())

	close(release)
	require.Eventually(t, func() bool { return p.PoolSize() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestZeroCoreStillRunsQueuedTask(t *testing.T) {
	p := newPool(t, Config{CorePoolSize: 0, MaxPoolSize: 1, QueueCapacity: 1, KeepAlive: time.Second})

	fut, err := p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fut.Wait(ctx))
}

func TestZeroCoreRunsTasksSubmittedWhileWorkerRetires(t *testing.T) {
	p := newPool(t, Config{CorePoolSize: 0, MaxPoolSize: 1, QueueCapacity: 1, KeepAlive: time.Millisecond})

	for i := 0; i < 300; i++ {
		fut, err := p.Submit(func(ctx context.Context) error { return nil })
		require.NoError(t, err, "submit %d", i)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = fut.Wait(ctx)
		cancel()
		require.NoError(t, err, "task %d stranded in the queue", i)
		time.Sleep(time.Duration(i%3) * time.Millisecond)
	}
}

func TestPanicBecomesError(t *testing.T) {
	p := newPool(t, DefaultConfig())
	fut, err := p.Submit(func(ctx context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	assert.Error(t, fut.Wait(context.Background()))
}

func TestShutdownDrainsQueueAndRejects(t *testing.T) {
	p, err := New(Config{CorePoolSize: 1, MaxPoolSize: 1, QueueCapacity: 10, KeepAlive: time.Second})
	require.NoError(t, err)

	var mu sync.Mutex
	done := 0
	for i := 0; i < 5; i++ {
		_, err := p.Submit(func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 5, done)
	assert.Equal(t, 0, p.PoolSize())

	_, err = p.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestShutdownTimeoutCancelsTasks(t *testing.T) {
	p, err := New(Config{CorePoolSize: 1, MaxPoolSize: 1, KeepAlive: time.Second})
	require.NoError(t, err)

	fut, err := p.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, fut.Wait(context.Background()), context.Canceled)
}
