package alerts_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/alerts"
	"github.com/sqryxz/mts-signal-pipeline/internal/workers"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

func newTestDispatcher(t *testing.T) (*alerts.Dispatcher, *workers.Pool) {
	t.Helper()
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("alerts-test"))
	pool.Start()
	dbPath := filepath.Join(t.TempDir(), "alerts.db")
	d, err := alerts.NewDispatcher(zap.NewNop(), dbPath, pool, alerts.Config{MaxRetries: 1, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
		pool.Stop()
	})
	return d, pool
}

func sampleSignal(t *testing.T, strategy, asset string, confidence float64, strength types.SignalStrength) types.TradingSignal {
	t.Helper()
	sig, err := types.NewTradingSignal(types.TradingSignal{
		Asset:          asset,
		SignalType:     types.SignalLong,
		TimestampMS:    1700000000000,
		Price:          decimal.NewFromInt(50000),
		StrategyName:   strategy,
		SignalStrength: strength,
		Confidence:     confidence,
		PositionSize:   0.02,
	})
	if err != nil {
		t.Fatalf("NewTradingSignal: %v", err)
	}
	return sig
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestDispatchLogsSuccessfulDelivery(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls int64
	d.RegisterRoute("vix_correlation", alerts.Route{
		ChannelName: "ops",
		Config: types.DispatcherChannelConfig{
			Target:           "channel-1",
			MinConfidence:    0.1,
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 60,
		},
		Transport: alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "msg-1", nil
		}),
	})

	d.Dispatch(context.Background(), []types.TradingSignal{sampleSignal(t, "vix_correlation", "BTC", 0.8, types.StrengthStrong)})

	waitFor(t, func() bool { return atomic.LoadInt64(&calls) == 1 })

	rows, err := d.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].Success {
		t.Fatalf("expected success=true")
	}
	if rows[0].ExternalMessageID == nil || *rows[0].ExternalMessageID != "msg-1" {
		t.Fatalf("expected external message id msg-1, got %+v", rows[0].ExternalMessageID)
	}
}

func TestDispatchRecordsTransportFailureWithoutPropagating(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.RegisterRoute("mean_reversion", alerts.Route{
		ChannelName: "ops",
		Config: types.DispatcherChannelConfig{
			Target:           "channel-1",
			MinConfidence:    0.1,
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 60,
		},
		Transport: alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
			return "", errors.New("webhook unreachable")
		}),
	})

	d.Dispatch(context.Background(), []types.TradingSignal{sampleSignal(t, "mean_reversion", "ETH", 0.8, types.StrengthStrong)})

	var rows []types.DiscordAlertRecord
	waitFor(t, func() bool {
		var err error
		rows, err = d.Recent(context.Background(), 10)
		return err == nil && len(rows) == 1 && rows[0].ErrorMessage != nil
	})
	if rows[0].Success {
		t.Fatalf("expected success=false after transport failure")
	}
	if *rows[0].ErrorMessage != "webhook unreachable" {
		t.Fatalf("unexpected error message: %s", *rows[0].ErrorMessage)
	}
}

func TestDispatchFiltersBelowMinConfidence(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls int64
	d.RegisterRoute("momentum", alerts.Route{
		ChannelName: "ops",
		Config: types.DispatcherChannelConfig{
			Target:           "channel-1",
			MinConfidence:    0.5,
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 60,
		},
		Transport: alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "id", nil
		}),
	})

	d.Dispatch(context.Background(), []types.TradingSignal{sampleSignal(t, "momentum", "SOL", 0.2, types.StrengthWeak)})
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&calls) != 0 {
		t.Fatalf("expected filtered signal to never reach the transport")
	}
}

func TestDispatchRateLimitsRepeatSendsToSameAssetChannel(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls int64
	d.RegisterRoute("volatility_breakout", alerts.Route{
		ChannelName: "ops",
		Config: types.DispatcherChannelConfig{
			Target:           "channel-1",
			MinConfidence:    0.1,
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 3600,
		},
		Transport: alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "id", nil
		}),
	})

	sig := sampleSignal(t, "volatility_breakout", "BTC", 0.9, types.StrengthStrong)
	d.Dispatch(context.Background(), []types.TradingSignal{sig})
	waitFor(t, func() bool { return atomic.LoadInt64(&calls) == 1 })

	d.Dispatch(context.Background(), []types.TradingSignal{sig})
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected second dispatch within rate-limit window to be skipped, got %d calls", atomic.LoadInt64(&calls))
	}
}

func TestDispatchDropsSignalsFromUnroutedStrategies(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Dispatch(context.Background(), []types.TradingSignal{sampleSignal(t, "unregistered_strategy", "BTC", 0.9, types.StrengthStrong)})
	time.Sleep(50 * time.Millisecond)

	rows, err := d.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no logged rows for an unrouted strategy, got %d", len(rows))
	}
}

func TestBulkUpdateOutcomesAppliesBatch(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls int64
	d.RegisterRoute("strategy-a", alerts.Route{
		ChannelName: "ops",
		Config: types.DispatcherChannelConfig{
			Target:           "channel-1",
			MinConfidence:    0.1,
			MinStrength:      types.StrengthWeak,
			RateLimitSeconds: 1,
		},
		Transport: alerts.TransportFunc(func(ctx context.Context, target string, sig types.TradingSignal) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "id", nil
		}),
	})
	d.Dispatch(context.Background(), []types.TradingSignal{sampleSignal(t, "strategy-a", "BTC", 0.9, types.StrengthStrong)})
	waitFor(t, func() bool { return atomic.LoadInt64(&calls) == 1 })

	rows, err := d.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if err := d.BulkUpdateOutcomes(context.Background(), map[int64]bool{rows[0].ID: false}); err != nil {
		t.Fatalf("BulkUpdateOutcomes: %v", err)
	}

	rows, err = d.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if rows[0].Success {
		t.Fatalf("expected bulk update to flip success to false")
	}
}
