package strategy_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/internal/strategy"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

var testBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func combinedBar(day int, close float64, vix *float64) market.CombinedBar {
	c := decimal.NewFromFloat(close)
	return market.CombinedBar{
		MarketBar: types.MarketBar{
			TimestampMS: testBase.AddDate(0, 0, day).UnixMilli(),
			Open:        c,
			High:        c.Add(decimal.NewFromInt(1)),
			Low:         c.Sub(decimal.NewFromInt(1)),
			Close:       c,
			Volume:      decimal.NewFromInt(1000),
		},
		VIXValue: vix,
	}
}

func windowOf(asset string, bars []market.CombinedBar) market.MultiAssetWindow {
	return market.MultiAssetWindow{Assets: map[string][]market.CombinedBar{asset: bars}}
}

// A close series that is a decreasing linear function of the VIX is
// near-perfectly negatively correlated with it, which must produce a
// LONG signal with the standard 5%/10% risk levels.
func TestVIXCorrelationNegativeCorrelationProducesLong(t *testing.T) {
	s := strategy.NewVIXCorrelationStrategy()
	if err := s.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 30, PositionSize: 0.02}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	bars := make([]market.CombinedBar, 30)
	for i := range bars {
		vix := 18 + float64(i%10)
		close := 50000 - 1000*(vix-20)
		bars[i] = combinedBar(i, close, &vix)
	}

	analysis, err := s.Analyze(windowOf("BTC", bars))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	sigs, err := s.GenerateSignals(analysis)
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected 1 LONG signal, got %d", len(sigs))
	}

	sig := sigs[0]
	if sig.SignalType != types.SignalLong {
		t.Fatalf("expected LONG, got %s", sig.SignalType)
	}
	if sig.Confidence <= 0 || sig.Confidence > 1 {
		t.Fatalf("confidence %v out of (0,1]", sig.Confidence)
	}
	if sig.CorrelationValue == nil || *sig.CorrelationValue >= -0.6 {
		t.Fatalf("expected correlation < -0.6, got %v", sig.CorrelationValue)
	}
	price, _ := sig.Price.Float64()
	stop, _ := sig.StopLoss.Float64()
	take, _ := sig.TakeProfit.Float64()
	if math.Abs(stop-price*0.95) > 1e-6 {
		t.Fatalf("expected stop at 5%% below entry, got %v for price %v", stop, price)
	}
	if math.Abs(take-price*1.10) > 1e-6 {
		t.Fatalf("expected target at 10%% above entry, got %v for price %v", take, price)
	}
	if _, ok := sig.AnalysisData["vix_level"]; !ok {
		t.Fatal("expected vix_level in analysis data")
	}
}

// Orthogonal sinusoids have near-zero correlation; no signal may fire.
func TestVIXCorrelationWeakCorrelationProducesNoSignal(t *testing.T) {
	s := strategy.NewVIXCorrelationStrategy()
	if err := s.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 30, PositionSize: 0.02}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	bars := make([]market.CombinedBar, 30)
	for i := range bars {
		phase := 2 * math.Pi * float64(i) / 15
		vix := 20 + 2*math.Cos(phase)
		close := 50000 + 500*math.Sin(phase)
		bars[i] = combinedBar(i, close, &vix)
	}

	analysis, err := s.Analyze(windowOf("BTC", bars))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.Opportunities) != 0 {
		t.Fatalf("expected no opportunities for uncorrelated series, got %d", len(analysis.Opportunities))
	}
}

func TestVIXCorrelationInsufficientDataProducesNoSignal(t *testing.T) {
	s := strategy.NewVIXCorrelationStrategy()
	if err := s.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 30, PositionSize: 0.02}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	vix := 25.0
	bars := []market.CombinedBar{
		combinedBar(0, 50000, &vix),
		combinedBar(1, 49000, &vix),
	}
	analysis, err := s.Analyze(windowOf("BTC", bars))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.Opportunities) != 0 {
		t.Fatalf("expected no opportunities below the 10-row minimum, got %d", len(analysis.Opportunities))
	}
}

// A 15% linear drawdown with the VIX pinned at 30 satisfies both
// mean-reversion conditions exactly as specified.
func TestMeanReversionSpikeAndDrawdownProducesLong(t *testing.T) {
	s := strategy.NewMeanReversionStrategy()
	if err := s.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 14, PositionSize: 0.025}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	bars := make([]market.CombinedBar, 14)
	for i := range bars {
		vix := 30.0
		close := 50000 - float64(i)*(7500.0/13.0) // linear 50000 -> 42500
		bars[i] = combinedBar(i, close, &vix)
	}

	analysis, err := s.Analyze(windowOf("BTC", bars))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	sigs, err := s.GenerateSignals(analysis)
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected 1 LONG signal, got %d", len(sigs))
	}

	sig := sigs[0]
	if sig.SignalType != types.SignalLong {
		t.Fatalf("expected LONG, got %s", sig.SignalType)
	}
	vixLevel, _ := sig.AnalysisData["vix_level"].(float64)
	if vixLevel < 25 {
		t.Fatalf("expected vix_level >= 25, got %v", vixLevel)
	}
	dd, _ := sig.AnalysisData["drawdown_from_high"].(float64)
	if dd < 0.10 {
		t.Fatalf("expected drawdown_from_high >= 0.10, got %v", dd)
	}
	price, _ := sig.Price.Float64()
	take, _ := sig.TakeProfit.Float64()
	if take-price <= 0 {
		t.Fatalf("expected take_profit above entry, got take=%v price=%v", take, price)
	}
	if sig.PositionSize > 0.05 {
		t.Fatalf("expected position size capped at 0.05, got %v", sig.PositionSize)
	}
}

func TestMeanReversionNoSpikeNoSignal(t *testing.T) {
	s := strategy.NewMeanReversionStrategy()
	if err := s.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 14, PositionSize: 0.025}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	bars := make([]market.CombinedBar, 14)
	for i := range bars {
		vix := 15.0 // calm market
		close := 50000 - float64(i)*500
		bars[i] = combinedBar(i, close, &vix)
	}
	analysis, err := s.Analyze(windowOf("BTC", bars))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.Opportunities) != 0 {
		t.Fatalf("expected no opportunities without a VIX spike, got %d", len(analysis.Opportunities))
	}
}

func TestMomentumUptrendProducesLong(t *testing.T) {
	s := strategy.NewMomentumStrategy()
	if err := s.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 45, PositionSize: 0.02}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	bars := make([]market.CombinedBar, 45)
	for i := range bars {
		price := 20000 + float64(i)*60
		if i%5 == 4 {
			price -= 250 // pullbacks keep RSI off the overbought pin
		}
		bars[i] = combinedBar(i, price, nil)
	}
	analysis, err := s.Analyze(windowOf("BTC", bars))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	sigs, err := s.GenerateSignals(analysis)
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(sigs) != 1 || sigs[0].SignalType != types.SignalLong {
		t.Fatalf("expected 1 LONG from a steady uptrend, got %+v", sigs)
	}
	if sigs[0].Confidence > 0.9 {
		t.Fatalf("momentum confidence capped at 0.9, got %v", sigs[0].Confidence)
	}
}

// An accelerating uptrend (daily return growing every day) pushes every
// momentum horizon's latest reading to the top of its own history, which
// is exactly what the composite-z momentum bucket keys on.
func TestMultiBucketMomentumLongBucketFires(t *testing.T) {
	s := strategy.NewMultiBucketStrategy()
	if err := s.Configure(types.StrategyConfig{
		Assets:       []string{"BTC", "ALT"},
		LookbackDays: 40,
		PositionSize: 0.02,
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	altBars := make([]market.CombinedBar, 40)
	price := 100.0
	for i := range altBars {
		price *= 1 + 0.001*float64(i)
		altBars[i] = combinedBar(i, price, nil)
	}
	btcBars := make([]market.CombinedBar, 40)
	for i := range btcBars {
		btcBars[i] = combinedBar(i, 50000, nil)
	}

	window := market.MultiAssetWindow{Assets: map[string][]market.CombinedBar{
		"BTC": btcBars,
		"ALT": altBars,
	}}
	analysis, err := s.Analyze(window)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	found := false
	for _, opp := range analysis.Opportunities {
		if opp.Evidence["bucket"] == "momentum_long" && opp.Asset == "ALT" {
			found = true
			if opp.SignalType != types.SignalLong {
				t.Fatalf("momentum bucket must emit LONG, got %s", opp.SignalType)
			}
		}
	}
	if !found {
		t.Fatalf("expected a momentum_long opportunity for ALT, got %+v", analysis.Opportunities)
	}

	sigs, err := s.GenerateSignals(analysis)
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	for _, sig := range sigs {
		if _, ok := sig.AnalysisData["risk_summary"]; !ok {
			t.Fatal("expected risk_summary attached to every signal")
		}
	}
}

func TestRegistryNormalizesNames(t *testing.T) {
	r := strategy.NewRegistry()
	for _, name := range []string{"vix_correlation", "VIX-Correlation", "vix correlation", "VixCorrelation"} {
		inst, ok := r.Create(name)
		if !ok {
			t.Fatalf("expected registry to resolve %q", name)
		}
		if inst.Name() != "vix_correlation" {
			t.Fatalf("resolved wrong strategy for %q: %s", name, inst.Name())
		}
	}
	if _, ok := r.Create("no_such_strategy"); ok {
		t.Fatal("expected unknown name to fail")
	}
}

func TestRegistryListsAllBuiltins(t *testing.T) {
	r := strategy.NewRegistry()
	if got := len(r.List()); got != 5 {
		t.Fatalf("expected 5 built-in strategies, got %d", got)
	}
}

// Universal invariants over everything the strategies emit: confidence
// and position size bounded, price positive, risk levels on the correct
// side of the entry.
func TestEmittedSignalsSatisfyRiskLevelInvariants(t *testing.T) {
	vix := func(i int) *float64 { v := 18 + float64(i%10); return &v }
	bars := make([]market.CombinedBar, 30)
	for i := range bars {
		bars[i] = combinedBar(i, 50000-1000*(*vix(i)-20), vix(i))
	}
	window := windowOf("BTC", bars)

	r := strategy.NewRegistry()
	for _, name := range r.List() {
		inst, _ := r.Create(name)
		if err := inst.Configure(types.StrategyConfig{Assets: []string{"BTC"}, LookbackDays: 30, PositionSize: 0.02}); err != nil {
			t.Fatalf("%s Configure: %v", name, err)
		}
		analysis, err := inst.Analyze(window)
		if err != nil {
			t.Fatalf("%s Analyze: %v", name, err)
		}
		sigs, err := inst.GenerateSignals(analysis)
		if err != nil {
			t.Fatalf("%s GenerateSignals: %v", name, err)
		}
		for _, sig := range sigs {
			if sig.Confidence < 0 || sig.Confidence > 1 {
				t.Fatalf("%s: confidence %v out of [0,1]", name, sig.Confidence)
			}
			if sig.PositionSize < 0 || sig.PositionSize > 1 {
				t.Fatalf("%s: position size %v out of [0,1]", name, sig.PositionSize)
			}
			if !sig.Price.IsPositive() {
				t.Fatalf("%s: non-positive price %s", name, sig.Price)
			}
			if sig.StopLoss != nil && sig.TakeProfit != nil {
				price, _ := sig.Price.Float64()
				stop, _ := sig.StopLoss.Float64()
				take, _ := sig.TakeProfit.Float64()
				switch sig.SignalType {
				case types.SignalLong:
					if !(stop < price && price < take) {
						t.Fatalf("%s LONG: want stop < price < take, got %v %v %v", name, stop, price, take)
					}
				case types.SignalShort:
					if !(take < price && price < stop) {
						t.Fatalf("%s SHORT: want take < price < stop, got %v %v %v", name, take, price, stop)
					}
				}
			}
		}
	}
}
