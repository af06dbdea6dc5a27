package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestQueue_BasicFunctionality(t *testing.T) {
	q := NewQueue(testLogger(), 3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		job := func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
			return nil
		}
		if !q.Enqueue(job) {
			t.Errorf("Failed to enqueue job %d", i)
		}
	}

	q.Shutdown()

	if completed.Load() != 5 {
		t.Errorf("Expected 5 completed jobs, got %d", completed.Load())
	}

	stats := q.Stats()
	if stats.TotalEnqueued != 5 {
		t.Errorf("Expected 5 enqueued, got %d", stats.TotalEnqueued)
	}
}

func TestQueue_PanicRecovery(t *testing.T) {
	q := NewQueue(testLogger(), 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	// Panic 任务
	q.Enqueue(func(ctx context.Context) error {
		panic("intentional panic")
	})

	// 正常任务（验证 worker 没有因为 panic 而挂掉）
	var executed atomic.Bool
	q.Enqueue(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	time.Sleep(300 * time.Millisecond)
	q.Shutdown()

	stats := q.Stats()
	if stats.TotalPanics != 1 {
		t.Errorf("Expected 1 panic, got %d", stats.TotalPanics)
	}
	if !executed.Load() {
		t.Error("Normal job should execute after panic")
	}
}

func TestQueue_QueueFull(t *testing.T) {
	q := NewQueue(testLogger(), 1, 2) // 1个worker，2个容量

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	blockChan := make(chan struct{})

	// 第1个任务：在 worker 中执行，阻塞住
	q.Enqueue(func(ctx context.Context) error {
		<-blockChan
		return nil
	})

	time.Sleep(50 * time.Millisecond) // 确保第一个任务开始执行

	// 第2、3个任务：填满队列容量（2个slot）
	q.Enqueue(func(ctx context.Context) error { return nil })
	q.Enqueue(func(ctx context.Context) error { return nil })

	// 第4个任务：应该被丢弃（worker忙碌 + 队列满）
	dropped := !q.Enqueue(func(ctx context.Context) error { return nil })
	if !dropped {
		t.Error("Expected enqueue to fail when queue is full")
	}

	close(blockChan)
	time.Sleep(300 * time.Millisecond)
	q.Shutdown()

	stats := q.Stats()
	if stats.TotalDropped < 1 {
		t.Errorf("Expected at least 1 dropped job, got %d", stats.TotalDropped)
	}
}

func TestQueue_BlockingEnqueueTimesOutWhenFull(t *testing.T) {
	q := NewQueue(testLogger(), 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	blockChan := make(chan struct{})
	q.Enqueue(func(ctx context.Context) error {
		<-blockChan
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	// 再填满队列容量
	q.Enqueue(func(ctx context.Context) error { return nil })

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer timeoutCancel()

	start := time.Now()
	err := q.EnqueueBlocking(timeoutCtx, func(ctx context.Context) error { return nil })
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected timeout error")
	}
	if elapsed < 80*time.Millisecond {
		t.Errorf("Expected to wait ~100ms, but only waited %v", elapsed)
	}

	close(blockChan)
	time.Sleep(100 * time.Millisecond)
	q.Shutdown()
}

func TestQueue_GracefulShutdown(t *testing.T) {
	q := NewQueue(testLogger(), 3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 10; i++ {
		q.Enqueue(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
			return nil
		})
	}

	// 优雅关闭，等待所有任务完成
	q.Shutdown()

	if completed.Load() != 10 {
		t.Errorf("Expected all 10 jobs to complete, got %d", completed.Load())
	}

	// 关闭后不应接受新任务
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Error("Should not accept jobs after shutdown")
	}
}

func TestQueue_ShutdownWithTimeout(t *testing.T) {
	q := NewQueue(testLogger(), 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	for i := 0; i < 3; i++ {
		q.Enqueue(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}

	err := q.ShutdownWithTimeout(500 * time.Millisecond)
	if err != nil {
		t.Errorf("Expected successful shutdown, got error: %v", err)
	}
}

func TestQueue_Stats(t *testing.T) {
	q := NewQueue(testLogger(), 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error { return nil })
	q.Enqueue(func(ctx context.Context) error { return nil })
	q.Enqueue(func(ctx context.Context) error { return errors.New("error") })

	time.Sleep(300 * time.Millisecond)
	q.Shutdown()

	stats := q.Stats()
	if stats.TotalEnqueued != 3 {
		t.Errorf("Expected 3 enqueued, got %d", stats.TotalEnqueued)
	}
	if stats.TotalProcessed != 3 {
		t.Errorf("Expected 3 processed, got %d", stats.TotalProcessed)
	}
	if stats.TotalSucceeded != 2 {
		t.Errorf("Expected 2 succeeded, got %d", stats.TotalSucceeded)
	}
	if stats.TotalFailed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.TotalFailed)
	}
}
