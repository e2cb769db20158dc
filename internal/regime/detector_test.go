package regime

import (
	"math"
	"testing"

	"go.uber.org/zap"
)

func correlatedReturns(n int, noiseEvery int) (a, b []float64) {
	a = make([]float64, n)
	b = make([]float64, n)
	for i := 0; i < n; i++ {
		v := math.Sin(float64(i) / 3)
		a[i] = v
		b[i] = v
		if noiseEvery > 0 && i%noiseEvery == 0 {
			b[i] = -v
		}
	}
	return a, b
}

func TestLeverageFactorInterpolation(t *testing.T) {
	cases := []struct {
		avg  float64
		want float64
	}{
		{0.1, 1.0},  // below low threshold
		{0.3, 1.0},  // at low threshold
		{0.9, 0.5},  // above high threshold
		{0.5, 0.75}, // midway between 0.3 and 0.7
	}
	for _, c := range cases {
		got := leverageFactor(c.avg, 0.3, 0.7, 0.5)
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("leverageFactor(%v) = %v, want %v", c.avg, got, c.want)
		}
	}
}

func TestEvaluateHighCorrelationCutsLeverage(t *testing.T) {
	m := NewCorrelationRegimeMonitor(zap.NewNop(), DefaultRegimeConfig())
	a, b := correlatedReturns(100, 0)
	snap := m.Evaluate(map[string][]float64{"BTC": a, "ETH": b})
	if snap.AverageCorrelation < 0.9 {
		t.Fatalf("expected near-perfect correlation, got %v", snap.AverageCorrelation)
	}
	if snap.LeverageFactor >= 1.0 {
		t.Fatalf("expected leverage below 1.0 under high correlation, got %v", snap.LeverageFactor)
	}
}

func TestEvaluateDetectsRegimeShift(t *testing.T) {
	m := NewCorrelationRegimeMonitor(zap.NewNop(), DefaultRegimeConfig())

	// first evaluation: weakly correlated basket
	a, b := correlatedReturns(100, 2)
	first := m.Evaluate(map[string][]float64{"BTC": a, "ETH": b})
	if first.RiskOff {
		t.Fatal("first evaluation has no prior, must not be risk-off")
	}

	// second evaluation: basket suddenly moves as one trade
	a2, b2 := correlatedReturns(100, 0)
	second := m.Evaluate(map[string][]float64{"BTC": a2, "ETH": b2})
	if !second.RiskOff {
		t.Fatalf("expected risk-off after a sudden correlation jump, got %+v", second)
	}
	if second.LeverageFactor >= first.LeverageFactor && first.LeverageFactor < 1.0 {
		t.Fatalf("expected risk-off to compound the leverage cut")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultRegimeConfig()
	cfg.HistorySize = 3
	m := NewCorrelationRegimeMonitor(zap.NewNop(), cfg)
	a, b := correlatedReturns(50, 0)
	for i := 0; i < 10; i++ {
		m.Evaluate(map[string][]float64{"BTC": a, "ETH": b})
	}
	if len(m.History()) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(m.History()))
	}
}
