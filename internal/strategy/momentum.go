package strategy

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// MomentumStrategy trades SMA crossovers confirmed by RSI: a short SMA
// meaningfully above the long SMA (with RSI not already overbought) is a
// LONG continuation signal, and the mirror condition is SHORT.
type MomentumStrategy struct {
	cfg             types.StrategyConfig
	shortPeriod     int
	longPeriod      int
	rsiPeriod       int
	separationPct   float64
	basePositionSize float64
	maxPositionSize float64
}

func NewMomentumStrategy() *MomentumStrategy {
	return &MomentumStrategy{
		shortPeriod:      10,
		longPeriod:       30,
		rsiPeriod:        14,
		separationPct:    0.01,
		basePositionSize: 0.02,
		maxPositionSize:  0.05,
	}
}

func (s *MomentumStrategy) Name() string { return "momentum" }

func (s *MomentumStrategy) Configure(cfg types.StrategyConfig) error {
	s.cfg = cfg
	if cfg.PositionSize > 0 {
		s.basePositionSize = cfg.PositionSize
	}
	if v, ok := cfg.Parameters["short_period"].(float64); ok && v > 0 {
		s.shortPeriod = int(v)
	}
	if v, ok := cfg.Parameters["long_period"].(float64); ok && v > 0 {
		s.longPeriod = int(v)
	}
	if v, ok := cfg.Parameters["rsi_period"].(float64); ok && v > 0 {
		s.rsiPeriod = int(v)
	}
	if v, ok := cfg.Parameters["max_position_size"].(float64); ok {
		s.maxPositionSize = v
	}
	return nil
}

func (s *MomentumStrategy) Parameters() map[string]any {
	return map[string]any{
		"short_period":      s.shortPeriod,
		"long_period":       s.longPeriod,
		"rsi_period":        s.rsiPeriod,
		"base_position_size": s.basePositionSize,
		"max_position_size": s.maxPositionSize,
	}
}

func (s *MomentumStrategy) Analyze(window market.MultiAssetWindow) (AnalysisResult, error) {
	result := AnalysisResult{StrategyName: s.Name()}
	for asset, bars := range window.Assets {
		closePrices := closes(bars)
		if len(closePrices) < s.longPeriod+1 {
			continue // INSUFFICIENT_DATA for this asset; no opportunity emitted
		}

		shortMA, ok1 := smaLast(closePrices, s.shortPeriod)
		longMA, ok2 := smaLast(closePrices, s.longPeriod)
		rsi, ok3 := rsiLast(closePrices, s.rsiPeriod)
		if !ok1 || !ok2 || !ok3 || longMA <= 0 {
			continue
		}

		momentum := (shortMA - longMA) / longMA

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()

		var signalType types.SignalType
		switch {
		case momentum > s.separationPct && rsi < 70:
			signalType = types.SignalLong
		case momentum < -s.separationPct && rsi > 30:
			signalType = types.SignalShort
		default:
			continue
		}

		absMomentum := math.Abs(momentum)
		confidence := clamp(0.6+absMomentum*10, 0, 0.9)
		positionSize := math.Min(s.maxPositionSize, s.basePositionSize*(1+absMomentum*5))

		var stop, target float64
		if signalType == types.SignalLong {
			stop = price * 0.95
			target = price * 1.15
		} else {
			stop = price * 1.05
			target = price * 0.85
		}

		strength := types.StrengthModerate
		if confidence > 0.8 {
			strength = types.StrengthStrong
		} else if confidence < 0.65 {
			strength = types.StrengthWeak
		}

		result.Opportunities = append(result.Opportunities, Opportunity{
			Asset:        asset,
			SignalType:   signalType,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     strength,
			PositionSize: positionSize,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"short_ma": shortMA,
				"long_ma":  longMA,
				"momentum": momentum,
				"rsi":      rsi,
			},
		})
	}
	return result, nil
}

func (s *MomentumStrategy) GenerateSignals(result AnalysisResult) ([]types.TradingSignal, error) {
	return buildSignals(result.StrategyName, result.Opportunities)
}
