package workers_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/workers"
)

func newTestPool(t *testing.T) *workers.Pool {
	t.Helper()
	cfg := workers.DefaultPoolConfig("test")
	cfg.QueueSize = 10
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	p := newTestPool(t)

	var count int64
	for i := 0; i < 5; i++ {
		if err := p.SubmitFunc(func() error {
			atomic.AddInt64(&count, 1)
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&count) < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&count); got != 5 {
		t.Fatalf("expected 5 completed tasks, got %d", got)
	}
}

func TestPoolSubmitWaitReturnsTaskError(t *testing.T) {
	p := newTestPool(t)

	wantErr := errors.New("boom")
	err := p.SubmitWait(workers.TaskFunc(func() error { return wantErr }))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestPoolRecoversPanicWithoutCrashing(t *testing.T) {
	p := newTestPool(t)

	err := p.SubmitWait(workers.TaskFunc(func() error {
		panic("task exploded")
	}))
	var panicErr *workers.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
}

func TestPoolSubmitAfterStopReturnsErrPoolStopped(t *testing.T) {
	cfg := workers.DefaultPoolConfig("stopped")
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := p.Submit(workers.TaskFunc(func() error { return nil }))
	if err != workers.ErrPoolStopped {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPoolSubmitFullQueueReturnsErrQueueFull(t *testing.T) {
	cfg := workers.DefaultPoolConfig("full")
	cfg.NumWorkers = 1
	cfg.QueueSize = 1
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })

	block := make(chan struct{})
	// occupy the single worker
	if err := p.Submit(workers.TaskFunc(func() error { <-block; return nil })); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the worker pick up the first task
	// fill the queue
	if err := p.Submit(workers.TaskFunc(func() error { return nil })); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err := p.Submit(workers.TaskFunc(func() error { return nil }))
	close(block)
	if err != workers.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
