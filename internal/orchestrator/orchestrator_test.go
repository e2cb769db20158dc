package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/alerts"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/internal/orchestrator"
	"github.com/sqryxz/mts-signal-pipeline/internal/signals"
	"github.com/sqryxz/mts-signal-pipeline/internal/strategy"
	"github.com/sqryxz/mts-signal-pipeline/internal/workers"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// uptrendBars is a linear uptrend with a periodic small pullback every
// 5th day: enough of a drift to push the short SMA >1% above the long
// SMA, while the pullbacks keep RSI(14) under the momentum strategy's
// overbought gate (a pure monotonic rise pins RSI at 100).
func uptrendBars(days int) []types.MarketBar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.MarketBar, days)
	const start = 20000.0
	for i := 0; i < days; i++ {
		price := start + float64(i)*60
		if i%5 == 4 {
			price -= 250
		}
		c := decimal.NewFromFloat(price)
		bars[i] = types.MarketBar{
			TimestampMS: base.AddDate(0, 0, i).UnixMilli(),
			Open:        c,
			High:        c,
			Low:         c,
			Close:       c,
			Volume:      decimal.NewFromInt(1000),
		}
	}
	return bars
}

func TestOrchestratorRunOnceProducesAndDispatchesSignals(t *testing.T) {
	logger := zap.NewNop()
	store, err := market.NewStore(logger, filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	store.LoadBars("BTC", uptrendBars(45))

	registry := strategy.NewRegistry()

	aggregator, err := signals.NewAggregator(logger, types.AggregatorConfig{
		StrategyWeights:    map[string]float64{"momentum": 1.0},
		ConflictResolution: types.ConflictWeightedAverage,
		MaxPositionSize:    0.1,
		MinPositionSize:    0.005,
	})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	pool := workers.NewPool(logger, workers.DefaultPoolConfig("orch-test"))
	dispatcher, err := alerts.NewDispatcher(logger, filepath.Join(t.TempDir(), "alerts.db"), pool, alerts.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	t.Cleanup(func() { dispatcher.Close() })

	delivered := make(chan struct{}, 1)
	// the aggregator's weighted_average policy relabels its output
	// StrategyName to "aggregated_signal" (original producer preserved
	// in AnalysisData["strategies_combined"]), so the dispatcher routes
	// on that label rather than the originating strategy's name.
	dispatcher.RegisterRoute("aggregated_signal", alerts.Route{
		ChannelName: "test",
		Config: types.DispatcherChannelConfig{
			Target:           "channel",
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 1,
		},
		Transport: alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
			select {
			case delivered <- struct{}{}:
			default:
			}
			return "id", nil
		}),
	})

	cfg := orchestrator.Config{
		Assets: []string{"BTC"},
		Strategies: []orchestrator.StrategyBinding{
			{Name: "momentum", Config: types.StrategyConfig{Assets: []string{"BTC"}, PositionSize: 0.02}, LookbackDays: 45},
		},
	}
	orch, err := orchestrator.New(logger, cfg, registry, store, aggregator, dispatcher, pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { orch.Stop() })

	sigs, err := orch.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(sigs) == 0 {
		t.Fatalf("expected a momentum LONG signal from a steady uptrend, got none")
	}
	for _, s := range sigs {
		if s.SignalType != types.SignalLong {
			t.Fatalf("expected LONG, got %s", s.SignalType)
		}
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected aggregated signal to reach the dispatcher's transport")
	}

	status := orch.Status()
	if status.RunCount != 1 {
		t.Fatalf("expected run_count=1, got %d", status.RunCount)
	}
	if status.LastSignalCnt != len(sigs) {
		t.Fatalf("expected status signal count %d, got %d", len(sigs), status.LastSignalCnt)
	}
}

func TestOrchestratorRejectsUnknownStrategy(t *testing.T) {
	logger := zap.NewNop()
	store, err := market.NewStore(logger, filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := strategy.NewRegistry()
	aggregator, err := signals.NewAggregator(logger, types.AggregatorConfig{
		StrategyWeights:    map[string]float64{"nope": 1.0},
		ConflictResolution: types.ConflictWeightedAverage,
		MaxPositionSize:    0.1,
		MinPositionSize:    0.005,
	})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("orch-test-2"))

	cfg := orchestrator.Config{
		Assets:     []string{"BTC"},
		Strategies: []orchestrator.StrategyBinding{{Name: "not_a_real_strategy"}},
	}
	_, err = orchestrator.New(logger, cfg, registry, store, aggregator, nil, pool)
	if err == nil {
		t.Fatal("expected an error for an unregistered strategy name")
	}
}
