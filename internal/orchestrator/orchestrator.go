// Package orchestrator wires the pipeline's collaborators together
// (component H): it loads strategies from the registry, pulls a
// market-data window, runs strategies concurrently across a bounded
// worker pool, feeds their output to the aggregator, and forwards the
// aggregated signals to the alert dispatcher. It also exposes a status
// query surfacing the health of a long-running deployment (scheduler
// liveness, recent-alert counts).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/alerts"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/internal/signals"
	"github.com/sqryxz/mts-signal-pipeline/internal/strategy"
	"github.com/sqryxz/mts-signal-pipeline/internal/workers"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// StrategyBinding pairs a registered strategy name with the
// configuration it is bound to and the window it wants.
type StrategyBinding struct {
	Name         string
	Config       types.StrategyConfig
	LookbackDays int
}

// Config configures one orchestrator deployment.
type Config struct {
	Assets     []string
	Strategies []StrategyBinding
	Schedule   string // cron expression; empty disables scheduled runs
}

// Orchestrator coordinates registry -> strategies -> aggregator ->
// dispatcher for one deployment.
type Orchestrator struct {
	logger     *zap.Logger
	cfg        Config
	registry   *strategy.Registry
	store      *market.Store
	aggregator *signals.Aggregator
	dispatcher *alerts.Dispatcher
	pool       *workers.Pool
	cron       *cron.Cron

	mu          sync.RWMutex
	bound       []boundStrategy
	lastRun     time.Time
	lastErr     error
	runCount    int64
	lastSignals []types.TradingSignal
}

type boundStrategy struct {
	name     string
	instance strategy.Strategy
	lookback int
}

// New builds an orchestrator over an already-constructed registry,
// store, aggregator, dispatcher, and worker pool (the pool is shared
// with the dispatcher so one small pool bounds all fan-out). Strategy
// bindings are validated and instantiated eagerly so a BadConfig failure
// surfaces at construction, not at the first scheduled run.
func New(logger *zap.Logger, cfg Config, registry *strategy.Registry, store *market.Store, aggregator *signals.Aggregator, dispatcher *alerts.Dispatcher, pool *workers.Pool) (*Orchestrator, error) {
	o := &Orchestrator{
		logger:     logger.Named("orchestrator"),
		cfg:        cfg,
		registry:   registry,
		store:      store,
		aggregator: aggregator,
		dispatcher: dispatcher,
		pool:       pool,
	}
	for _, b := range cfg.Strategies {
		inst, ok := registry.Create(b.Name)
		if !ok {
			return nil, fmt.Errorf("orchestrator: unknown strategy %q", b.Name)
		}
		if err := inst.Configure(b.Config); err != nil {
			return nil, fmt.Errorf("orchestrator: configure %q: %w", b.Name, err)
		}
		lookback := b.LookbackDays
		if lookback <= 0 {
			lookback = 30
		}
		o.bound = append(o.bound, boundStrategy{name: b.Name, instance: inst, lookback: lookback})
	}
	return o, nil
}

// RunOnce pulls a market-data window, runs every bound strategy
// concurrently on the pool, aggregates their output, and dispatches the
// result. Per-strategy failures are logged and treated as "no signals"
// from that strategy, never aborting the run.
func (o *Orchestrator) RunOnce(ctx context.Context) ([]types.TradingSignal, error) {
	start := time.Now()
	o.logger.Info("orchestrator run starting", zap.Int("strategies", len(o.bound)), zap.Int("assets", len(o.cfg.Assets)))

	perStrategy := make(map[string][]types.TradingSignal)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, b := range o.bound {
		b := b
		wg.Add(1)
		task := workers.TaskFunc(func() error {
			defer wg.Done()
			window, err := o.store.GetWindow(ctx, o.cfg.Assets, b.lookback)
			if err != nil {
				o.logger.Error("market window fetch failed", zap.String("strategy", b.name), zap.Error(err))
				return nil
			}
			analysis, err := b.instance.Analyze(window)
			if err != nil {
				o.logger.Warn("strategy analyze failed", zap.String("strategy", b.name), zap.Error(err))
				return nil
			}
			sigs, err := b.instance.GenerateSignals(analysis)
			if err != nil {
				o.logger.Warn("strategy generate_signals failed", zap.String("strategy", b.name), zap.Error(err))
				return nil
			}
			mu.Lock()
			perStrategy[b.name] = sigs
			mu.Unlock()
			return nil
		})
		if err := o.pool.Submit(task); err != nil {
			// pool saturated: run inline rather than silently drop the strategy
			task.Execute()
		}
	}
	wg.Wait()

	aggregated := o.aggregator.Aggregate(perStrategy)
	if o.dispatcher != nil {
		o.dispatcher.Dispatch(ctx, aggregated)
	}

	o.mu.Lock()
	o.lastRun = time.Now()
	o.lastErr = nil
	o.runCount++
	o.lastSignals = aggregated
	o.mu.Unlock()

	o.logger.Info("orchestrator run complete",
		zap.Int("output_signals", len(aggregated)),
		zap.Duration("elapsed", time.Since(start)))
	return aggregated, nil
}

// Start begins scheduled runs per cfg.Schedule (a standard 5-field cron
// expression) and starts the shared worker pool. A zero-value Schedule
// means RunOnce must be driven by the caller directly; Start then only
// starts the pool.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.pool.Start()
	if o.cfg.Schedule == "" {
		return nil
	}
	o.cron = cron.New()
	_, err := o.cron.AddFunc(o.cfg.Schedule, func() {
		if _, err := o.RunOnce(ctx); err != nil {
			o.mu.Lock()
			o.lastErr = err
			o.mu.Unlock()
		}
	})
	if err != nil {
		return fmt.Errorf("orchestrator: invalid schedule %q: %w", o.cfg.Schedule, err)
	}
	o.cron.Start()
	o.logger.Info("orchestrator scheduler started", zap.String("schedule", o.cfg.Schedule))
	return nil
}

// Stop stops the scheduler (if running), waiting for a running job to
// finish, and then stops the shared worker pool, which does not drain
// queued tasks.
func (o *Orchestrator) Stop() error {
	if o.cron != nil {
		stopCtx := o.cron.Stop()
		<-stopCtx.Done()
	}
	return o.pool.Stop()
}

// Status is the health query a deployment's supervisory process polls.
type Status struct {
	Running       bool      `json:"running"`
	LastRunAt     time.Time `json:"last_run_at"`
	RunCount      int64     `json:"run_count"`
	LastError     string    `json:"last_error,omitempty"`
	LastSignalCnt int       `json:"last_signal_count"`
	QueuedTasks   int       `json:"queued_tasks"`
}

// Status reports scheduler liveness and recent activity counts.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := Status{
		Running:       o.pool.IsRunning(),
		LastRunAt:     o.lastRun,
		RunCount:      o.runCount,
		LastSignalCnt: len(o.lastSignals),
		QueuedTasks:   o.pool.QueueLength(),
	}
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	return s
}
