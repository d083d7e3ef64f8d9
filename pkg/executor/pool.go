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

// Package executor provides a bounded worker pool for long-running sends.
//
// Submission follows the classic thread-pool-executor order: start a worker
// while fewer than CorePoolSize are alive, otherwise enqueue, otherwise grow
// up to MaxPoolSize, otherwise reject. Workers above the core size retire
// after KeepAlive without work.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

var (
	ErrPoolSaturated = errors.New("worker pool saturated")
	ErrPoolShutdown  = errors.New("worker pool shut down")
	ErrInvalidConfig = errors.New("invalid pool configuration")
)

type Config struct {
	CorePoolSize  int
	MaxPoolSize   int
	QueueCapacity int
	KeepAlive     time.Duration
}

func DefaultConfig() Config {
	return Config{
		CorePoolSize:  5,
		MaxPoolSize:   15,
		QueueCapacity: 100,
		KeepAlive:     60 * time.Second,
	}
}

func (c Config) validate() error {
	if c.CorePoolSize < 0 || c.MaxPoolSize < 1 || c.CorePoolSize > c.MaxPoolSize {
		return fmt.Errorf("%w: core=%d max=%d", ErrInvalidConfig, c.CorePoolSize, c.MaxPoolSize)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue_capacity=%d", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.KeepAlive <= 0 {
		return fmt.Errorf("%w: keep_alive=%s", ErrInvalidConfig, c.KeepAlive)
	}
	return nil
}

type Task func(ctx context.Context) error

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

type job struct {
	task   Task
	future *Future
}

type Pool struct {
	cfg   Config
	queue chan *job
	slots *semaphore.Weighted

	mu       sync.Mutex
	workers  int
	largest  int
	shutdown bool

	active    atomic.Int64
	completed atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		queue:  make(chan *job, cfg.QueueCapacity),
		slots:  semaphore.NewWeighted(int64(cfg.MaxPoolSize)),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Submit schedules task and returns a Future for its outcome. It never
// blocks: a full pool yields ErrPoolSaturated.
func (p *Pool) Submit(task Task) (*Future, error) {
	if task == nil {
		return nil, errors.New("nil task")
	}
	j := &job{task: task, future: newFuture()}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return nil, ErrPoolShutdown
	}

	if p.workers < p.cfg.CorePoolSize && p.startWorkerLocked(j) {
		return j.future, nil
	}

	select {
	case p.queue <- j:
		if p.workers == 0 {
			p.startWorkerLocked(nil)
		}
		p.reportLocked()
		return j.future, nil
	default:
	}

	if p.workers < p.cfg.MaxPoolSize && p.startWorkerLocked(j) {
		return j.future, nil
	}

	p.metrics.TaskRejected()
	p.logger.Warn("task rejected", "pool_size", p.workers, "queued", len(p.queue))
	return nil, fmt.Errorf("%w: workers=%d queued=%d", ErrPoolSaturated, p.workers, len(p.queue))
}

func (p *Pool) startWorkerLocked(first *job) bool {
	if !p.slots.TryAcquire(1) {
		return false
	}
	p.workers++
	if p.workers > p.largest {
		p.largest = p.workers
	}
	p.wg.Add(1)
	go p.worker(first)
	p.reportLocked()
	return true
}

func (p *Pool) worker(first *job) {
	defer p.wg.Done()

	if first != nil {
		p.run(first)
	}

	idle := time.NewTimer(p.cfg.KeepAlive)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				p.retire()
				return
			}
			p.run(j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.KeepAlive)
		case <-idle.C:
			if p.tryRetireIdle() {
				return
			}
			idle.Reset(p.cfg.KeepAlive)
		}
	}
}

func (p *Pool) tryRetireIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers <= p.cfg.CorePoolSize || len(p.queue) > 0 {
		return false
	}
	p.releaseWorkerLocked()
	return true
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.releaseWorkerLocked()
	p.mu.Unlock()
}

// releaseWorkerLocked frees the worker's slot together with its count so a
// concurrent Submit never sees one without the other.
func (p *Pool) releaseWorkerLocked() {
	p.slots.Release(1)
	p.workers--
	p.reportLocked()
}

func (p *Pool) run(j *job) {
	p.active.Add(1)
	p.report()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panic recovered", "error", r)
				err = fmt.Errorf("task panic: %v", r)
			}
		}()
		err = j.task(p.ctx)
	}()

	p.active.Add(-1)
	p.completed.Add(1)
	j.future.complete(err)
	p.report()
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for
// every worker. When ctx expires first the task context is cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.shutdown {
		p.shutdown = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) Config() Config { return p.cfg }

// PoolSize returns the number of live workers.
func (p *Pool) PoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// LargestPoolSize returns the highest worker count ever reached.
func (p *Pool) LargestPoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.largest
}

func (p *Pool) ActiveCount() int      { return int(p.active.Load()) }
func (p *Pool) CompletedCount() int64 { return p.completed.Load() }
func (p *Pool) QueueLen() int         { return len(p.queue) }

func (p *Pool) report() {
	p.mu.Lock()
	p.reportLocked()
	p.mu.Unlock()
}

func (p *Pool) reportLocked() {
	p.metrics.PoolStats(p.workers, int(p.active.Load()), len(p.queue))
}
