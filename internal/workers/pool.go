// Package workers provides a small bounded goroutine pool used by the
// orchestrator (concurrent strategy execution) and the alert dispatcher
// (transport calls and database writes, run concurrently). Submission is
// non-blocking: a full queue returns ErrQueueFull rather than stalling
// the caller.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool manages a small pool of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *poolMetrics
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string        // pool name, used as the prometheus label
	NumWorkers      int           // number of worker goroutines (2-4 is the expected range)
	QueueSize       int           // size of the task queue
	TaskTimeout     time.Duration // timeout for individual tasks
	ShutdownTimeout time.Duration // timeout for graceful shutdown
	PanicRecovery   bool          // enable panic recovery in workers
}

// DefaultPoolConfig returns a small, bounded pool suited to the
// dispatcher and orchestrator's I/O-bound fan-out — not CPU-scaled,
// since neither component benefits from more than a handful of workers
// running transport calls and database writes.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      3,
		QueueSize:       1000,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// worker runs tasks pulled off the pool's queue.
type worker struct {
	id     int
	pool   *Pool
	logger *zap.Logger
}

// poolMetrics wraps the prometheus collectors for one pool, registered
// against a dedicated registry so multiple pools (and pools created
// repeatedly in tests) never collide on global registration.
type poolMetrics struct {
	registry       *prometheus.Registry
	submitted      prometheus.Counter
	completed      prometheus.Counter
	failed         prometheus.Counter
	timedOut       prometheus.Counter
	panicRecovered prometheus.Counter
	taskDuration   prometheus.Histogram
	queueDepth     prometheus.Gauge
}

func newPoolMetrics(name string) *poolMetrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		registry: reg,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_pool_tasks_submitted_total",
			Help:        "Tasks submitted to the pool.",
			ConstLabels: labels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_pool_tasks_completed_total",
			Help:        "Tasks completed without error.",
			ConstLabels: labels,
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_pool_tasks_failed_total",
			Help:        "Tasks that returned an error.",
			ConstLabels: labels,
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_pool_tasks_timeout_total",
			Help:        "Tasks that exceeded the per-task timeout.",
			ConstLabels: labels,
		}),
		panicRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_pool_panics_recovered_total",
			Help:        "Panics recovered from task execution.",
			ConstLabels: labels,
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "worker_pool_task_duration_seconds",
			Help:        "Task execution latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "worker_pool_queue_depth",
			Help:        "Current number of queued tasks.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.submitted, m.completed, m.failed, m.timedOut, m.panicRecovered, m.taskDuration, m.queueDepth)
	return m
}

// NewPool creates a new worker pool.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   newPoolMetrics(config.Name),
	}
}

// Start initializes and starts all workers.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		w := &worker{id: i, pool: p, logger: p.logger.With(zap.Int("worker_id", i))}
		p.wg.Add(1)
		go w.run()
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case task, ok := <-w.pool.taskQueue:
			if !ok {
				return
			}
			w.pool.metrics.queueDepth.Set(float64(len(w.pool.taskQueue)))
			w.executeTask(task)
		}
	}
}

// executeTask executes a single task with timeout and panic recovery.
func (w *worker) executeTask(task Task) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(w.pool.ctx, w.pool.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		var err error
		if w.pool.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					w.pool.metrics.panicRecovered.Inc()
					w.logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
				done <- err
			}()
		}
		err = task.Execute()
		if !w.pool.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case err := <-done:
		w.pool.metrics.taskDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			w.pool.metrics.failed.Inc()
			w.logger.Debug("task failed", zap.Error(err))
		} else {
			w.pool.metrics.completed.Inc()
		}
	case <-ctx.Done():
		w.pool.metrics.timedOut.Inc()
		w.logger.Warn("task timed out", zap.Duration("timeout", w.pool.config.TaskTimeout))
	}
}

// Submit adds a task to the queue without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.submitted.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait submits a task and waits for completion.
func (p *Pool) SubmitWait(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	done := make(chan error, 1)
	wrapper := TaskFunc(func() error {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Recovered: r}
				panic(r) // let the worker's own recovery record it
			}
		}()
		err := task.Execute()
		done <- err
		return err
	})

	if err := p.Submit(wrapper); err != nil {
		return err
	}

	return <-done
}

// SubmitFunc submits a function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// SubmitBatch submits multiple tasks, stopping at the first submission
// failure (e.g. a full queue) and reporting how many were accepted.
func (p *Pool) SubmitBatch(tasks []Task) (submitted int, err error) {
	for _, task := range tasks {
		if err := p.Submit(task); err != nil {
			return submitted, err
		}
		submitted++
	}
	return submitted, nil
}

// Stop shuts down the pool: it cancels the pool context and waits up to
// ShutdownTimeout for the worker goroutines to exit. It does not drain:
// queued tasks may never be started, and a task already executing is no
// longer awaited (it is counted as timed out and finishes on its own
// goroutine).
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks.
func (p *Pool) QueueLength() int { return len(p.taskQueue) }

// IsRunning returns whether the pool is running.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Registry exposes the pool's dedicated prometheus registry so a caller
// can fold it into a larger /metrics handler.
func (p *Pool) Registry() *prometheus.Registry { return p.metrics.registry }

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string { return "panic recovered" }
