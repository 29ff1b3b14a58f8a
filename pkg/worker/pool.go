// Package worker runs asynchronous provider calls on a bounded set of
// goroutines so that callback delivery never blocks the caller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/logger"
)

var (
	// ErrPoolClosed is returned when submitting a task to a closed pool.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrPoolShuttingDown is returned when submitting a task during shutdown.
	ErrPoolShuttingDown = errors.New("worker pool is shutting down")

	// ErrPoolNotStarted is returned when submitting before Start.
	ErrPoolNotStarted = errors.New("worker pool is not started")
)

// PoolConfig holds configuration for a worker pool.
type PoolConfig struct {
	// Name labels the pool in metrics and logs.
	Name string

	// WorkerCount is the number of concurrent workers.
	WorkerCount int

	// QueueSize is the number of tasks that can wait for a worker.
	// Zero means submission blocks until a worker is free.
	QueueSize int

	// ShutdownTimeout bounds a graceful Shutdown before workers are cancelled.
	ShutdownTimeout time.Duration

	Logger *zap.Logger
}

// DefaultPoolConfig returns the settings used by the provider.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:            "provider",
		WorkerCount:     8,
		QueueSize:       256,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Pool executes tasks concurrently with graceful shutdown and metrics.
type Pool struct {
	config  PoolConfig
	logger  *zap.Logger
	tasks   chan Task
	metrics *poolMetrics

	wg     sync.WaitGroup
	state  atomic.Int32
	cancel context.CancelFunc

	// inflight counts submitters currently blocked on the channel so
	// Shutdown can close it safely.
	inflight sync.WaitGroup

	activeWorkers  atomic.Int64
	queuedTasks    atomic.Int64
	completedTasks atomic.Int64
	failedTasks    atomic.Int64

	mu sync.Mutex
}

const (
	stateIdle = iota
	stateRunning
	stateShuttingDown
	stateClosed
)

// NewPool creates a worker pool. Start must be called before Submit.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", config.WorkerCount)
	}
	if config.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must be non-negative, got %d", config.QueueSize)
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	p := &Pool{
		config:  config,
		logger:  logger.Or(config.Logger).With(zap.String("pool", config.Name)),
		tasks:   make(chan Task, config.QueueSize),
		metrics: newPoolMetrics(config.Name),
	}
	p.state.Store(stateIdle)
	return p, nil
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(stateIdle, stateRunning) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("queue_size", p.config.QueueSize),
	)
}

// Submit queues a task, blocking while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	switch p.state.Load() {
	case stateIdle:
		p.mu.Unlock()
		return ErrPoolNotStarted
	case stateShuttingDown:
		p.mu.Unlock()
		return ErrPoolShuttingDown
	case stateClosed:
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	p.queuedTasks.Add(1)
	p.metrics.queueLength.Set(float64(p.queuedTasks.Load()))

	select {
	case p.tasks <- task:
		p.logger.Debug("task submitted", zap.String("task", task.Name()))
		return nil
	case <-ctx.Done():
		p.queuedTasks.Add(-1)
		p.metrics.queueLength.Set(float64(p.queuedTasks.Load()))
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ShutdownTimeout or ctx expires first, running tasks see their context
// cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Load() != stateRunning {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.state.Store(stateShuttingDown)
	p.mu.Unlock()

	p.logger.Info("shutting down worker pool")

	p.inflight.Wait()
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("worker pool shutdown complete")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timeout, cancelling tasks",
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		p.cancel()
		<-done
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown cancelled by context")
		p.cancel()
		<-done
		err = ctx.Err()
	}

	p.cancel()
	p.state.Store(stateClosed)
	return err
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	workerLogger := p.logger.With(zap.Int("worker_id", id))
	for task := range p.tasks {
		p.queuedTasks.Add(-1)
		p.metrics.queueLength.Set(float64(p.queuedTasks.Load()))
		p.execute(ctx, task, workerLogger)
	}
	workerLogger.Debug("worker stopped")
}

func (p *Pool) execute(ctx context.Context, task Task, workerLogger *zap.Logger) {
	p.metrics.activeWorkers.Set(float64(p.activeWorkers.Add(1)))
	defer func() {
		p.metrics.activeWorkers.Set(float64(p.activeWorkers.Add(-1)))
	}()

	start := time.Now()
	err := p.run(ctx, task)
	duration := time.Since(start)
	p.metrics.record(duration, err)

	if err != nil {
		p.failedTasks.Add(1)
		workerLogger.Debug("task failed",
			zap.String("task", task.Name()),
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return
	}
	p.completedTasks.Add(1)
}

// run keeps a panicking task from taking the worker down with it.
func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("task", task.Name()), zap.Any("panic", r))
			err = fmt.Errorf("task %s panicked: %v", task.Name(), r)
		}
	}()
	return task.Execute(ctx)
}

// PoolStats contains statistics about a worker pool.
type PoolStats struct {
	Name           string
	WorkerCount    int
	QueueSize      int
	ActiveWorkers  int
	QueuedTasks    int
	CompletedTasks int64
	FailedTasks    int64
	State          string
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:           p.config.Name,
		WorkerCount:    p.config.WorkerCount,
		QueueSize:      p.config.QueueSize,
		ActiveWorkers:  int(p.activeWorkers.Load()),
		QueuedTasks:    int(p.queuedTasks.Load()),
		CompletedTasks: p.completedTasks.Load(),
		FailedTasks:    p.failedTasks.Load(),
		State:          p.stateName(),
	}
}

func (p *Pool) stateName() string {
	switch p.state.Load() {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateShuttingDown:
		return "shutting_down"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsRunning reports whether the pool accepts new tasks.
func (p *Pool) IsRunning() bool {
	return p.state.Load() == stateRunning
}
