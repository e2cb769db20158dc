package strategy

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/internal/analytics"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

var correlationWindows = []int{7, 14, 21, 30}

// VIXCorrelationStrategy trades the relationship between an asset's
// price and the VIX: a strong negative correlation (price falls as fear
// rises) is read as a LONG opportunity on mean-reversion grounds, a
// strong positive correlation as SHORT.
type VIXCorrelationStrategy struct {
	cfg          types.StrategyConfig
	lookbackDays int
}

func NewVIXCorrelationStrategy() *VIXCorrelationStrategy {
	return &VIXCorrelationStrategy{lookbackDays: 30}
}

func (s *VIXCorrelationStrategy) Name() string { return "vix_correlation" }

func (s *VIXCorrelationStrategy) Configure(cfg types.StrategyConfig) error {
	if cfg.CorrelationThresholds.StrongNegative == 0 {
		cfg.CorrelationThresholds.StrongNegative = -0.6
	}
	if cfg.CorrelationThresholds.StrongPositive == 0 {
		cfg.CorrelationThresholds.StrongPositive = 0.6
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 30
	}
	if cfg.PositionSize == 0 {
		cfg.PositionSize = 0.02
	}
	s.cfg = cfg
	s.lookbackDays = cfg.LookbackDays
	return nil
}

func (s *VIXCorrelationStrategy) Parameters() map[string]any {
	return map[string]any{
		"lookback_days":   s.lookbackDays,
		"strong_negative": s.cfg.CorrelationThresholds.StrongNegative,
		"strong_positive": s.cfg.CorrelationThresholds.StrongPositive,
		"position_size":   s.cfg.PositionSize,
	}
}

func (s *VIXCorrelationStrategy) Analyze(window market.MultiAssetWindow) (AnalysisResult, error) {
	result := AnalysisResult{StrategyName: s.Name()}
	for asset, bars := range window.Assets {
		closePrices := closes(bars)
		vix, _ := vixSeries(bars)

		cleanCloses := make([]float64, 0, len(closePrices))
		cleanVix := make([]float64, 0, len(vix))
		for i := range bars {
			if math.IsNaN(vix[i]) {
				continue
			}
			cleanCloses = append(cleanCloses, closePrices[i])
			cleanVix = append(cleanVix, vix[i])
		}
		if len(cleanCloses) < 10 {
			continue // INSUFFICIENT_DATA for this asset; no opportunity emitted
		}

		r, corrWindow, found := analytics.LongestFittingCorrelation(cleanCloses, cleanVix, correlationWindows)
		if !found {
			continue
		}

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()
		currentVIX := cleanVix[len(cleanVix)-1]

		strongNeg := s.cfg.CorrelationThresholds.StrongNegative
		strongPos := s.cfg.CorrelationThresholds.StrongPositive
		var signalType types.SignalType
		var confidence float64
		switch {
		case r <= strongNeg:
			signalType = types.SignalLong
			confidence = clamp(math.Abs(r)/math.Abs(strongNeg), 0, 1)
		case r >= strongPos:
			signalType = types.SignalShort
			confidence = clamp(r/strongPos, 0, 1)
		default:
			continue
		}

		strength := types.StrengthModerate
		if confidence > 0.8 {
			strength = types.StrengthStrong
		}

		vixAdjust := clamp(25/math.Max(currentVIX, 10), 0.5, 1.0)
		positionSize := s.cfg.PositionSize * vixAdjust
		maxRisk := 0.02

		var stop, target float64
		if signalType == types.SignalLong {
			stop = price * 0.95
			target = price * 1.10
		} else {
			stop = price * 1.05
			target = price * 0.90
		}

		corrValue := r
		result.Opportunities = append(result.Opportunities, Opportunity{
			Asset:            asset,
			SignalType:       signalType,
			TimestampMS:      last.TimestampMS,
			Price:            price,
			Confidence:       confidence,
			Strength:         strength,
			PositionSize:     positionSize,
			StopLoss:         &stop,
			TakeProfit:       &target,
			MaxRisk:          &maxRisk,
			CorrelationValue: &corrValue,
			Evidence: map[string]any{
				"correlation":      r,
				"correlation_window": corrWindow,
				"correlation_strength": strengthFromAbsR(math.Abs(r)),
				"vix_level":        currentVIX,
				"vix_adjust":       vixAdjust,
			},
		})
	}
	return result, nil
}

func (s *VIXCorrelationStrategy) GenerateSignals(result AnalysisResult) ([]types.TradingSignal, error) {
	return buildSignals(result.StrategyName, result.Opportunities)
}
