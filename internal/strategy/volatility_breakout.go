package strategy

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// VolatilityBreakoutStrategy classifies the current annualized volatility
// against its own recent history: a move into the 90th-95th percentile
// band reads as a breakout (LONG), above the 95th as exhaustion ripe for
// reversal (SHORT).
type VolatilityBreakoutStrategy struct {
	cfg                     types.StrategyConfig
	historicalHours         int
	volatilityPercentile    float64
	extremeVolPercentile    float64
	basePositionSize        float64
	maxPositionSize         float64
	minConfidence           float64
}

func NewVolatilityBreakoutStrategy() *VolatilityBreakoutStrategy {
	return &VolatilityBreakoutStrategy{
		historicalHours:      24,
		volatilityPercentile: 90,
		extremeVolPercentile: 95,
		basePositionSize:     0.02,
		maxPositionSize:      0.05,
		minConfidence:        0.6,
	}
}

func (s *VolatilityBreakoutStrategy) Name() string { return "volatility_breakout" }

func (s *VolatilityBreakoutStrategy) Configure(cfg types.StrategyConfig) error {
	s.cfg = cfg
	if cfg.PositionSize > 0 {
		s.basePositionSize = cfg.PositionSize
	}
	if v, ok := cfg.Parameters["historical_hours"].(float64); ok && v > 0 {
		s.historicalHours = int(v)
	}
	if v, ok := cfg.Parameters["volatility_threshold_percentile"].(float64); ok {
		s.volatilityPercentile = v
	}
	if v, ok := cfg.Parameters["extreme_volatility_percentile"].(float64); ok {
		s.extremeVolPercentile = v
	}
	if v, ok := cfg.Parameters["max_position_size"].(float64); ok {
		s.maxPositionSize = v
	}
	if v, ok := cfg.Parameters["min_confidence"].(float64); ok {
		s.minConfidence = v
	}
	return nil
}

func (s *VolatilityBreakoutStrategy) Parameters() map[string]any {
	return map[string]any{
		"historical_hours":                s.historicalHours,
		"volatility_threshold_percentile": s.volatilityPercentile,
		"extreme_volatility_percentile":   s.extremeVolPercentile,
		"base_position_size":              s.basePositionSize,
		"max_position_size":               s.maxPositionSize,
		"min_confidence":                  s.minConfidence,
	}
}

func (s *VolatilityBreakoutStrategy) Analyze(window market.MultiAssetWindow) (AnalysisResult, error) {
	result := AnalysisResult{StrategyName: s.Name()}
	for asset, bars := range window.Assets {
		closePrices := closes(bars)
		if len(closePrices) < 10 {
			continue // INSUFFICIENT_DATA for this asset; no opportunity emitted
		}

		returns := logReturns(closePrices)
		volWindow := int(math.Max(5, float64(len(returns))/20))
		volSeries := rollingStdAnnualized(returns, volWindow)

		clean := make([]float64, 0, len(volSeries))
		for _, v := range volSeries {
			if !math.IsNaN(v) {
				clean = append(clean, v)
			}
		}
		if len(clean) < 5 {
			continue
		}

		currentVol := clean[len(clean)-1]
		if _, _, ok := sampleStdOnly(clean); !ok {
			continue
		}
		avgVol := average(clean)
		if avgVol <= 0 {
			continue
		}

		p90, ok1 := empiricalPercentile(clean, s.volatilityPercentile)
		p95, ok2 := empiricalPercentile(clean, s.extremeVolPercentile)
		if !ok1 || !ok2 {
			continue
		}

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()

		var signalType types.SignalType
		var strength, confidence float64
		switch {
		case currentVol > p95:
			signalType = types.SignalShort
			strength = math.Min(1, currentVol/avgVol/3)
			confidence = math.Min(0.8, 0.5+strength*0.3)
		case currentVol > p90:
			signalType = types.SignalLong
			strength = math.Min(1, currentVol/avgVol/2)
			confidence = math.Min(0.9, 0.6+strength*0.3)
		default:
			continue
		}

		if confidence < s.minConfidence {
			continue
		}

		volMult := clamp(currentVol*100, 1, 3)
		var stop, target float64
		if signalType == types.SignalLong {
			stop = price * (1 - 0.02*volMult)
			target = price * (1 + 0.04*volMult)
		} else {
			stop = price * (1 + 0.02*volMult)
			target = price * (1 - 0.04*volMult)
		}

		sigStrength := types.StrengthModerate
		if confidence > 0.75 {
			sigStrength = types.StrengthStrong
		} else if confidence < 0.65 {
			sigStrength = types.StrengthWeak
		}

		positionSize := math.Min(s.basePositionSize*(1+strength), s.maxPositionSize)

		result.Opportunities = append(result.Opportunities, Opportunity{
			Asset:        asset,
			SignalType:   signalType,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     sigStrength,
			PositionSize: positionSize,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"current_volatility": currentVol,
				"mean_volatility":    avgVol,
				"p90_volatility":     p90,
				"p95_volatility":     p95,
				"volatility_mult":    volMult,
			},
		})
	}
	return result, nil
}

func (s *VolatilityBreakoutStrategy) GenerateSignals(result AnalysisResult) ([]types.TradingSignal, error) {
	return buildSignals(result.StrategyName, result.Opportunities)
}

func average(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}
