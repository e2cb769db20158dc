package strategy

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// MeanReversionStrategy looks for an asset that has drawn down sharply
// from its recent high while the VIX is spiking, and bets on reversion.
type MeanReversionStrategy struct {
	cfg               types.StrategyConfig
	vixSpikeThreshold float64
	drawdownThreshold float64
	lookbackDays      int
	basePositionSize  float64
}

func NewMeanReversionStrategy() *MeanReversionStrategy {
	return &MeanReversionStrategy{
		vixSpikeThreshold: 25,
		drawdownThreshold: 0.10,
		lookbackDays:      14,
		basePositionSize:  0.025,
	}
}

func (s *MeanReversionStrategy) Name() string { return "mean_reversion" }

func (s *MeanReversionStrategy) Configure(cfg types.StrategyConfig) error {
	s.cfg = cfg
	if cfg.LookbackDays > 0 {
		s.lookbackDays = cfg.LookbackDays
	}
	if cfg.PositionSize > 0 {
		s.basePositionSize = cfg.PositionSize
	}
	if v, ok := cfg.Parameters["vix_spike_threshold"].(float64); ok {
		s.vixSpikeThreshold = v
	}
	if v, ok := cfg.Parameters["drawdown_threshold"].(float64); ok {
		s.drawdownThreshold = v
	}
	return nil
}

func (s *MeanReversionStrategy) Parameters() map[string]any {
	return map[string]any{
		"vix_spike_threshold": s.vixSpikeThreshold,
		"drawdown_threshold":  s.drawdownThreshold,
		"lookback_days":       s.lookbackDays,
		"position_size":       s.basePositionSize,
	}
}

func (s *MeanReversionStrategy) Analyze(window market.MultiAssetWindow) (AnalysisResult, error) {
	result := AnalysisResult{StrategyName: s.Name()}
	for asset, bars := range window.Assets {
		closePrices := closes(bars)
		vix, _ := vixSeries(bars)

		cleanVix := make([]float64, 0, len(vix))
		for _, v := range vix {
			if !math.IsNaN(v) {
				cleanVix = append(cleanVix, v)
			}
		}
		if len(cleanVix) < 5 || len(closePrices) < 5 {
			continue
		}

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()
		currentVIX := cleanVix[len(cleanVix)-1]

		rollMax := rollingMax(closePrices, s.lookbackDays)
		high := rollMax[len(rollMax)-1]
		if high <= 0 {
			continue
		}
		drawdown := (high - price) / high

		vixSpikeDetected := currentVIX > s.vixSpikeThreshold
		drawdownMet := drawdown > s.drawdownThreshold
		if !vixSpikeDetected || !drawdownMet {
			continue
		}

		vixExcess := clamp((currentVIX-s.vixSpikeThreshold)/10, 0, 1)
		drawdownExcess := clamp((drawdown-s.drawdownThreshold)/0.10, 0, 1)
		vixPercentile := percentileRankOf(currentVIX, cleanVix) / 100

		rsiFactor := 0.1
		if rsi, ok := rsiLast(closePrices, 14); ok {
			rsiFactor = math.Max(0, (30-rsi)/30)
			if rsiFactor < 0.1 {
				rsiFactor = 0.1
			}
		}

		confidence := (vixExcess + drawdownExcess + vixPercentile + rsiFactor) / 4
		confidence = clamp(confidence, 0, 1)

		vixAdjust := clamp(25/math.Max(currentVIX, 15), 0.5, 1.0)
		confAdjust := 0.5 + 0.5*confidence
		positionSize := math.Min(s.basePositionSize*vixAdjust*confAdjust, 0.05)

		stop := price * (1 - (0.03 + 0.5*drawdown))
		target := price * (1 + 0.6*drawdown)

		strength := types.StrengthModerate
		if confidence > 0.7 {
			strength = types.StrengthStrong
		} else if confidence < 0.4 {
			strength = types.StrengthWeak
		}

		result.Opportunities = append(result.Opportunities, Opportunity{
			Asset:        asset,
			SignalType:   types.SignalLong,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     strength,
			PositionSize: positionSize,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"vix_level":          currentVIX,
				"vix_spike_detected": vixSpikeDetected,
				"drawdown_from_high": drawdown,
				"rolling_high":       high,
				"vix_adjust":         vixAdjust,
			},
		})
	}
	return result, nil
}

func (s *MeanReversionStrategy) GenerateSignals(result AnalysisResult) ([]types.TradingSignal, error) {
	return buildSignals(result.StrategyName, result.Opportunities)
}
