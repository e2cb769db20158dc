package backtester_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/backtester"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

func newTestStore(t *testing.T) *market.Store {
	t.Helper()
	s, err := market.NewStore(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dailyBars(start time.Time, days int, startPrice float64) []types.MarketBar {
	bars := make([]types.MarketBar, days)
	price := startPrice
	for i := 0; i < days; i++ {
		ts := start.AddDate(0, 0, i)
		o := decimal.NewFromFloat(price)
		c := decimal.NewFromFloat(price + 1)
		bars[i] = types.MarketBar{
			TimestampMS: ts.UnixMilli(),
			Open:        o,
			High:        c.Add(decimal.NewFromInt(1)),
			Low:         o.Sub(decimal.NewFromInt(1)),
			Close:       c,
			Volume:      decimal.NewFromInt(1000),
		}
		price++
	}
	return bars
}

func TestEngineRunProducesSuccessWithFullEquityCurve(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 20)
	store.LoadBars("BTC", dailyBars(start.AddDate(0, 0, -60), 90, 100))

	engine := backtester.NewEngine(zap.NewNop(), store)

	opened := false
	gen := backtester.GeneratorFunc(func(window market.MultiAssetWindow, asOf time.Time) ([]types.TradingSignal, error) {
		bars := window.Assets["BTC"]
		if len(bars) == 0 {
			return nil, nil
		}
		last := bars[len(bars)-1]
		if !opened {
			opened = true
			return []types.TradingSignal{{
				Asset:        "BTC",
				SignalType:   types.SignalLong,
				Price:        last.Close,
				StrategyName: "test",
				PositionSize: 0.1,
				Confidence:   0.8,
			}}, nil
		}
		return []types.TradingSignal{{
			Asset:        "BTC",
			SignalType:   types.SignalShort,
			Price:        last.Close,
			StrategyName: "test",
			PositionSize: 0.1,
			Confidence:   0.8,
		}}, nil
	})

	cfg := types.DefaultBacktestConfig()
	cfg.Assets = []string{"BTC"}
	cfg.StartDate = start
	cfg.EndDate = end
	cfg.SignalCadenceDays = 7

	result, err := engine.Run(context.Background(), cfg, []string{"BTC"}, gen)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != types.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", result.Status)
	}

	expectedDays := int(end.Sub(start).Hours()/24) + 1
	if len(result.EquityCurve) != expectedDays {
		t.Fatalf("expected %d equity points, got %d", expectedDays, len(result.EquityCurve))
	}
	if len(result.DailyReturns) != expectedDays {
		t.Fatalf("expected %d daily returns, got %d", expectedDays, len(result.DailyReturns))
	}
	if result.Trading.TotalTrades == 0 {
		t.Fatal("expected at least one executed trade")
	}
	if result.Signals.CountByType[types.SignalLong] == 0 {
		t.Fatal("expected at least one LONG signal counted")
	}
	for _, dd := range result.DrawdownSeries {
		if dd > 0 || dd < -1 {
			t.Fatalf("drawdown %f out of [-1, 0]", dd)
		}
	}
}

func TestEngineRunRejectsBadConfig(t *testing.T) {
	store := newTestStore(t)
	engine := backtester.NewEngine(zap.NewNop(), store)

	cfg := types.DefaultBacktestConfig()
	cfg.StartDate = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // end before start

	gen := backtester.GeneratorFunc(func(market.MultiAssetWindow, time.Time) ([]types.TradingSignal, error) {
		return nil, nil
	})

	_, err := engine.Run(context.Background(), cfg, []string{"BTC"}, gen)
	if err == nil {
		t.Fatal("expected BadConfig error for end before start")
	}
}

func TestEngineRunRejectsTooEarlyStartDate(t *testing.T) {
	store := newTestStore(t)
	engine := backtester.NewEngine(zap.NewNop(), store)

	cfg := types.DefaultBacktestConfig()
	cfg.StartDate = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = time.Date(2015, 2, 1, 0, 0, 0, 0, time.UTC)

	gen := backtester.GeneratorFunc(func(market.MultiAssetWindow, time.Time) ([]types.TradingSignal, error) {
		return nil, nil
	})

	_, err := engine.Run(context.Background(), cfg, []string{"BTC"}, gen)
	if err == nil {
		t.Fatal("expected BadConfig error for start_date before 2020-01-01")
	}
}

func TestEngineRunNoSignalsStillProducesFlatEquityCurve(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)
	store.LoadBars("BTC", dailyBars(start.AddDate(0, 0, -60), 80, 100))

	engine := backtester.NewEngine(zap.NewNop(), store)
	gen := backtester.GeneratorFunc(func(market.MultiAssetWindow, time.Time) ([]types.TradingSignal, error) {
		return nil, nil
	})

	cfg := types.DefaultBacktestConfig()
	cfg.StartDate = start
	cfg.EndDate = end

	result, err := engine.Run(context.Background(), cfg, []string{"BTC"}, gen)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Trading.TotalTrades != 0 {
		t.Fatalf("expected no trades, got %d", result.Trading.TotalTrades)
	}
	for _, eq := range result.EquityCurve {
		if !eq.Equal(cfg.InitialCapital) {
			t.Fatalf("expected flat equity at initial capital, got %s", eq.String())
		}
	}
}
