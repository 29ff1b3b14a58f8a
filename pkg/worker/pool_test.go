package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/worker"
)

func newTestPool(t *testing.T, name string, workers, queue int) *worker.Pool {
	t.Helper()
	pool, err := worker.NewPool(worker.PoolConfig{
		Name:            name,
		WorkerCount:     workers,
		QueueSize:       queue,
		ShutdownTimeout: 5 * time.Second,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() { worker.ResetMetrics(name) })
	return pool
}

// TestPoolBasicExecution tests basic task execution in the pool
func TestPoolBasicExecution(t *testing.T) {
	pool := newTestPool(t, "test-pool", 3, 10)

	ctx := context.Background()
	pool.Start(ctx)
	defer pool.Shutdown(ctx)

	done := make(chan struct{})
	task := worker.NewFuncTask("test-task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	if err := pool.Submit(ctx, task); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not executed")
	}
}

// TestPoolMultipleTasks tests concurrent execution of multiple tasks
func TestPoolMultipleTasks(t *testing.T) {
	pool := newTestPool(t, "multi-task-pool", 5, 100)

	ctx := context.Background()
	pool.Start(ctx)

	taskCount := 50
	var mu sync.Mutex
	results := make(map[int]bool)

	for i := 0; i < taskCount; i++ {
		taskID := i
		task := worker.NewFuncTask(fmt.Sprintf("task-%d", taskID), func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			results[taskID] = true
			mu.Unlock()
			return nil
		})
		if err := pool.Submit(ctx, task); err != nil {
			t.Fatalf("failed to submit task %d: %v", taskID, err)
		}
	}

	// Shutdown drains the queue
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if len(results) != taskCount {
		t.Errorf("expected %d results, got %d", taskCount, len(results))
	}
	if stats := pool.Stats(); stats.CompletedTasks != int64(taskCount) {
		t.Errorf("expected %d completed tasks, got %d", taskCount, stats.CompletedTasks)
	}
}

// TestPoolTaskFailure tests error handling
func TestPoolTaskFailure(t *testing.T) {
	pool := newTestPool(t, "failure-pool", 2, 5)

	ctx := context.Background()
	pool.Start(ctx)

	var failureCallbackCalled atomic.Bool
	expectedErr := errors.New("task failure")

	task := worker.NewFuncTask("failing-task", func(ctx context.Context) error {
		return expectedErr
	}).WithOnFailure(func(err error) {
		if errors.Is(err, expectedErr) {
			failureCallbackCalled.Store(true)
		}
	})

	if err := pool.Submit(ctx, task); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if !failureCallbackCalled.Load() {
		t.Error("failure callback was not called")
	}
	if stats := pool.Stats(); stats.FailedTasks != 1 {
		t.Errorf("expected 1 failed task, got %d", stats.FailedTasks)
	}
}

// TestPoolRecoversPanic keeps workers alive after a panicking task
func TestPoolRecoversPanic(t *testing.T) {
	pool := newTestPool(t, "panic-pool", 1, 2)

	ctx := context.Background()
	pool.Start(ctx)

	var ran atomic.Bool
	if err := pool.Submit(ctx, worker.NewFuncTask("panics", func(ctx context.Context) error {
		panic("boom")
	})); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	if err := pool.Submit(ctx, worker.NewFuncTask("after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if !ran.Load() {
		t.Error("task after panic was not executed")
	}
	if stats := pool.Stats(); stats.FailedTasks != 1 || stats.CompletedTasks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// TestPoolGracefulShutdown tests graceful shutdown behavior
func TestPoolGracefulShutdown(t *testing.T) {
	pool := newTestPool(t, "shutdown-pool", 2, 10)

	ctx := context.Background()
	pool.Start(ctx)

	var completed atomic.Int32
	taskCount := 5

	for i := 0; i < taskCount; i++ {
		task := worker.NewFuncTask(fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
			return nil
		})
		if err := pool.Submit(ctx, task); err != nil {
			t.Fatalf("failed to submit task: %v", err)
		}
	}

	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if completed.Load() != int32(taskCount) {
		t.Errorf("not all tasks completed: %d/%d", completed.Load(), taskCount)
	}

	err := pool.Submit(ctx, worker.NewFuncTask("post-shutdown", func(ctx context.Context) error {
		return nil
	}))
	if !errors.Is(err, worker.ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	if err := pool.Shutdown(ctx); !errors.Is(err, worker.ErrPoolClosed) {
		t.Errorf("expected second shutdown to fail with ErrPoolClosed, got %v", err)
	}
}

// TestPoolContextCancellation tests that tasks respect context cancellation
func TestPoolContextCancellation(t *testing.T) {
	pool := newTestPool(t, "cancel-pool", 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer pool.Shutdown(context.Background())

	started := make(chan struct{})
	cancelled := make(chan struct{})

	task := worker.NewFuncTask("cancellable-task", func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	if err := pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}

	<-started
	cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Error("task did not respect context cancellation")
	}
}

// TestPoolSubmitRespectsContext tests that a full queue unblocks on ctx
func TestPoolSubmitRespectsContext(t *testing.T) {
	pool := newTestPool(t, "full-pool", 1, 0)

	ctx := context.Background()
	pool.Start(ctx)

	release := make(chan struct{})
	running := make(chan struct{})
	if err := pool.Submit(ctx, worker.NewFuncTask("block", func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	})); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	<-running

	submitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := pool.Submit(submitCtx, worker.NewFuncTask("quick", func(ctx context.Context) error {
		return nil
	}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

// TestPoolNotStarted rejects submissions before Start
func TestPoolNotStarted(t *testing.T) {
	pool := newTestPool(t, "idle-pool", 1, 1)

	err := pool.Submit(context.Background(), worker.NewFuncTask("early", func(ctx context.Context) error {
		return nil
	}))
	if !errors.Is(err, worker.ErrPoolNotStarted) {
		t.Errorf("expected ErrPoolNotStarted, got %v", err)
	}
	if stats := pool.Stats(); stats.State != "idle" {
		t.Errorf("expected state 'idle', got '%s'", stats.State)
	}
}

// TestPoolStats tests statistics reporting
func TestPoolStats(t *testing.T) {
	pool := newTestPool(t, "stats-pool", 3, 10)

	ctx := context.Background()
	pool.Start(ctx)

	stats := pool.Stats()
	if stats.Name != "stats-pool" {
		t.Errorf("expected name 'stats-pool', got '%s'", stats.Name)
	}
	if stats.WorkerCount != 3 {
		t.Errorf("expected 3 workers, got %d", stats.WorkerCount)
	}
	if stats.State != "running" {
		t.Errorf("expected state 'running', got '%s'", stats.State)
	}

	for i := 0; i < 5; i++ {
		task := worker.NewFuncTask(fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			return nil
		})
		if err := pool.Submit(ctx, task); err != nil {
			t.Fatalf("failed to submit task: %v", err)
		}
	}
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	stats = pool.Stats()
	if stats.CompletedTasks != 5 {
		t.Errorf("expected 5 completed tasks, got %d", stats.CompletedTasks)
	}
	if stats.State != "closed" {
		t.Errorf("expected state 'closed', got '%s'", stats.State)
	}
}

func TestNewPoolRejectsBadConfig(t *testing.T) {
	if _, err := worker.NewPool(worker.PoolConfig{WorkerCount: 0}); err == nil {
		t.Error("expected error for zero workers")
	}
	if _, err := worker.NewPool(worker.PoolConfig{WorkerCount: 1, QueueSize: -1}); err == nil {
		t.Error("expected error for negative queue size")
	}
}

// BenchmarkPoolThroughput benchmarks task throughput
func BenchmarkPoolThroughput(b *testing.B) {
	pool, err := worker.NewPool(worker.PoolConfig{
		Name:            "bench-pool",
		WorkerCount:     10,
		QueueSize:       1000,
		ShutdownTimeout: 30 * time.Second,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		b.Fatalf("failed to create pool: %v", err)
	}

	ctx := context.Background()
	pool.Start(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task := worker.NewFuncTask("bench-task", func(ctx context.Context) error {
			return nil
		})
		if err := pool.Submit(ctx, task); err != nil {
			b.Fatalf("submit failed: %v", err)
		}
	}
	if err := pool.Shutdown(ctx); err != nil {
		b.Fatalf("shutdown failed: %v", err)
	}
}
