// Package main is the signal pipeline's entry point. It wires the
// market-data store, strategy registry, aggregator, dispatcher, and
// orchestrator, then either runs the live pipeline (optionally on a
// cron schedule) or drives a historical backtest. The webhook transport
// is an external collaborator; the binary ships with a logging
// transport so a deployment without one still records its alerts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sqryxz/mts-signal-pipeline/internal/alerts"
	"github.com/sqryxz/mts-signal-pipeline/internal/backtester"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/internal/orchestrator"
	"github.com/sqryxz/mts-signal-pipeline/internal/signals"
	"github.com/sqryxz/mts-signal-pipeline/internal/strategy"
	"github.com/sqryxz/mts-signal-pipeline/internal/workers"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

const dateLayout = "2006-01-02"

func main() {
	mode := flag.String("mode", "run", "Execution mode: run or backtest")
	dbPath := flag.String("db", "./data/pipeline.db", "SQLite database path (market analytics + alert log)")
	assetsFlag := flag.String("assets", "BTC,ETH,SOL", "Comma-separated asset list")
	schedule := flag.String("schedule", "", "Cron schedule for recurring runs (empty = single run)")
	startDate := flag.String("start", "", "Backtest start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "Backtest end date (YYYY-MM-DD)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	assets := strings.Split(*assetsFlag, ",")
	for i := range assets {
		assets[i] = strings.TrimSpace(assets[i])
	}

	logger.Info("starting signal pipeline",
		zap.String("mode", *mode),
		zap.Strings("assets", assets),
		zap.String("db", *dbPath),
	)

	store, err := market.NewStore(logger, *dbPath)
	if err != nil {
		logger.Fatal("failed to open market store", zap.Error(err))
	}
	defer store.Close()

	registry := strategy.NewRegistry()

	aggregator, err := signals.NewAggregator(logger, types.AggregatorConfig{
		StrategyWeights: map[string]float64{
			"vix_correlation":        0.25,
			"mean_reversion":         0.2,
			"volatility_breakout":    0.2,
			"momentum":               0.2,
			"multi_bucket_portfolio": 0.15,
		},
		ConflictResolution: types.ConflictWeightedAverage,
		MaxPositionSize:    0.1,
		MinPositionSize:    0.005,
	})
	if err != nil {
		logger.Fatal("failed to build aggregator", zap.Error(err))
	}

	pool := workers.NewPool(logger, workers.DefaultPoolConfig("pipeline"))

	dispatcher, err := alerts.NewDispatcher(logger, *dbPath, pool, alerts.DefaultConfig())
	if err != nil {
		logger.Fatal("failed to open alert log", zap.Error(err))
	}
	defer dispatcher.Close()

	dispatcher.RegisterRoute("aggregated_signal", alerts.Route{
		ChannelName: "default",
		Config: types.DispatcherChannelConfig{
			Target:           "log",
			MinConfidence:    0.3,
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 300,
		},
		Transport: loggingTransport(logger),
	})

	switch *mode {
	case "backtest":
		runBacktest(logger, store, registry, aggregator, assets, *startDate, *endDate)
	case "run":
		runPipeline(logger, store, registry, aggregator, dispatcher, pool, assets, *schedule)
	default:
		logger.Fatal("unknown mode", zap.String("mode", *mode))
	}
}

func runPipeline(
	logger *zap.Logger,
	store *market.Store,
	registry *strategy.Registry,
	aggregator *signals.Aggregator,
	dispatcher *alerts.Dispatcher,
	pool *workers.Pool,
	assets []string,
	schedule string,
) {
	cfg := orchestrator.Config{
		Assets:     assets,
		Strategies: defaultBindings(assets),
		Schedule:   schedule,
	}
	orch, err := orchestrator.New(logger, cfg, registry, store, aggregator, dispatcher, pool)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}
	defer orch.Stop()

	if _, err := orch.RunOnce(ctx); err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
	}

	if schedule == "" {
		return
	}

	// Scheduled mode: stay up until interrupted.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down", zap.Any("status", orch.Status()))
}

func runBacktest(
	logger *zap.Logger,
	store *market.Store,
	registry *strategy.Registry,
	aggregator *signals.Aggregator,
	assets []string,
	start, end string,
) {
	startT, err := time.Parse(dateLayout, start)
	if err != nil {
		logger.Fatal("invalid -start date", zap.String("start", start), zap.Error(err))
	}
	endT, err := time.Parse(dateLayout, end)
	if err != nil {
		logger.Fatal("invalid -end date", zap.String("end", end), zap.Error(err))
	}

	instances := make([]strategy.Strategy, 0)
	for _, b := range defaultBindings(assets) {
		inst, ok := registry.Create(b.Name)
		if !ok {
			logger.Fatal("unknown strategy", zap.String("name", b.Name))
		}
		if err := inst.Configure(b.Config); err != nil {
			logger.Fatal("strategy configuration failed", zap.String("name", b.Name), zap.Error(err))
		}
		instances = append(instances, inst)
	}

	gen := backtester.GeneratorFunc(func(window market.MultiAssetWindow, asOf time.Time) ([]types.TradingSignal, error) {
		perStrategy := make(map[string][]types.TradingSignal, len(instances))
		for _, inst := range instances {
			analysis, err := inst.Analyze(window)
			if err != nil {
				logger.Warn("strategy analyze failed", zap.String("strategy", inst.Name()), zap.Error(err))
				continue
			}
			sigs, err := inst.GenerateSignals(analysis)
			if err != nil {
				logger.Warn("strategy generate_signals failed", zap.String("strategy", inst.Name()), zap.Error(err))
				continue
			}
			perStrategy[inst.Name()] = sigs
		}
		return aggregator.Aggregate(perStrategy), nil
	})

	cfg := types.DefaultBacktestConfig()
	cfg.Assets = assets
	cfg.StartDate = startT
	cfg.EndDate = endT

	engine := backtester.NewEngine(logger, store)
	result, err := engine.Run(context.Background(), cfg, assets, gen)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("failed to encode result", zap.Error(err))
	}
	fmt.Println(string(out))
}

func defaultBindings(assets []string) []orchestrator.StrategyBinding {
	base := types.StrategyConfig{
		Assets:       assets,
		LookbackDays: 30,
		CorrelationThresholds: types.CorrelationThresholds{
			StrongNegative: -0.6,
			StrongPositive: 0.6,
		},
		PositionSize: 0.02,
	}
	names := []string{"vix_correlation", "mean_reversion", "volatility_breakout", "momentum", "multi_bucket_portfolio"}
	bindings := make([]orchestrator.StrategyBinding, 0, len(names))
	for _, name := range names {
		bindings = append(bindings, orchestrator.StrategyBinding{Name: name, Config: base, LookbackDays: 45})
	}
	return bindings
}

// loggingTransport stands in for the external webhook collaborator:
// every alert that passes the dispatcher's filters is logged, and the
// alert row records the attempt the same way a real transport would.
func loggingTransport(logger *zap.Logger) alerts.Transport {
	return alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
		logger.Info("alert",
			zap.String("target", target),
			zap.String("asset", sig.Asset),
			zap.String("signal_type", string(sig.SignalType)),
			zap.Float64("confidence", sig.Confidence),
			zap.String("price", sig.Price.String()),
		)
		return "", nil
	})
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
