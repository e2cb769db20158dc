package strategy

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/internal/analytics"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/internal/regime"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// multiBucketParams collects the (generously defaulted) tunables for the
// five independent buckets. Callers override a subset via
// StrategyConfig.Parameters.
type multiBucketParams struct {
	momentumHorizons           []int
	momentumWeights            map[int]float64
	compositeThreshold         float64
	baseMomentumThreshold      float64
	accelerationThreshold      float64
	establishedTrendThreshold  float64

	regressionWindow   int
	residualWindow     int
	residualThreshold  float64
	residualSizeBoostZ float64

	lowCorrelationThreshold     float64
	overextensionThreshold      float64
	oversoldThreshold           float64
	momentumStrengthThreshold   float64

	pairs                     [][2]string
	pairSpreadWindow          int
	pairEntryThreshold        float64
	pairCorrelationThreshold  float64
	pairCorrelationDeclineMin float64

	basePositionSize float64
	maxPositionSize  float64
	factorAsset      string // BTC-equivalent factor asset for residual momentum
}

func defaultMultiBucketParams() multiBucketParams {
	return multiBucketParams{
		momentumHorizons:          []int{7, 14, 30},
		momentumWeights:           map[int]float64{7: 0.5, 14: 0.3, 30: 0.2},
		compositeThreshold:        0.5,
		baseMomentumThreshold:     0.02,
		accelerationThreshold:     0.01,
		establishedTrendThreshold: 1.0,

		regressionWindow:   20,
		residualWindow:     20,
		residualThreshold:  1.5,
		residualSizeBoostZ: 1.5,

		lowCorrelationThreshold:   0.3,
		overextensionThreshold:   1.5,
		oversoldThreshold:        -1.5,
		momentumStrengthThreshold: 0,

		pairSpreadWindow:          20,
		pairEntryThreshold:        1.5,
		pairCorrelationThreshold:  0.6,
		pairCorrelationDeclineMin: 0.15,

		basePositionSize: 0.02,
		maxPositionSize:  0.05,
		factorAsset:      "BTC",
	}
}

// MultiBucketStrategy runs five independent sub-strategies ("buckets")
// over the same multi-asset window and merges their opportunities,
// attaching a portfolio-level risk summary to the analysis.
type MultiBucketStrategy struct {
	cfg    types.StrategyConfig
	params multiBucketParams
	regimeMonitor *regime.CorrelationRegimeMonitor
}

func NewMultiBucketStrategy() *MultiBucketStrategy {
	return &MultiBucketStrategy{
		params:        defaultMultiBucketParams(),
		regimeMonitor: regime.NewCorrelationRegimeMonitor(nil, regime.DefaultRegimeConfig()),
	}
}

func (s *MultiBucketStrategy) Name() string { return "multi_bucket_portfolio" }

func (s *MultiBucketStrategy) Configure(cfg types.StrategyConfig) error {
	s.cfg = cfg
	if cfg.PositionSize > 0 {
		s.params.basePositionSize = cfg.PositionSize
	}
	if v, ok := cfg.Parameters["factor_asset"].(string); ok && v != "" {
		s.params.factorAsset = v
	}
	if v, ok := cfg.Parameters["composite_threshold"].(float64); ok {
		s.params.compositeThreshold = v
	}
	if v, ok := cfg.Parameters["residual_threshold"].(float64); ok {
		s.params.residualThreshold = v
	}
	if v, ok := cfg.Parameters["low_correlation_threshold"].(float64); ok {
		s.params.lowCorrelationThreshold = v
	}
	if pairs, ok := cfg.Parameters["pairs"].([][2]string); ok {
		s.params.pairs = pairs
	}
	return nil
}

func (s *MultiBucketStrategy) Parameters() map[string]any {
	return map[string]any{
		"momentum_horizons":         s.params.momentumHorizons,
		"composite_threshold":       s.params.compositeThreshold,
		"residual_threshold":        s.params.residualThreshold,
		"low_correlation_threshold": s.params.lowCorrelationThreshold,
		"base_position_size":        s.params.basePositionSize,
		"max_position_size":         s.params.maxPositionSize,
		"factor_asset":              s.params.factorAsset,
	}
}

func (s *MultiBucketStrategy) Analyze(window market.MultiAssetWindow) (AnalysisResult, error) {
	result := AnalysisResult{StrategyName: s.Name()}
	p := s.params

	returnsByAsset := make(map[string][]float64, len(window.Assets))
	closesByAsset := make(map[string][]float64, len(window.Assets))
	for asset, bars := range window.Assets {
		c := closes(bars)
		closesByAsset[asset] = c
		returnsByAsset[asset] = simpleReturns(c)
	}

	opps := make([]Opportunity, 0)
	opps = append(opps, s.momentumLongBucket(window, closesByAsset)...)
	opps = append(opps, s.residualMomentumBucket(window, closesByAsset, returnsByAsset)...)

	avgCorr, avgCorrOK := crossAssetAverageCorrelation(returnsByAsset, 30)
	if avgCorrOK && avgCorr < p.lowCorrelationThreshold {
		opps = append(opps, s.meanReversionBucket(window, closesByAsset)...)
	}

	opps = append(opps, s.pairTradeBucket(window, closesByAsset)...)

	regimeSnap := s.regimeMonitor.Evaluate(returnsByAsset)
	if regimeSnap.LeverageFactor != 1.0 {
		for i := range opps {
			opps[i].PositionSize *= regimeSnap.LeverageFactor
		}
	}

	bucketCounts := make(map[string]int)
	var totalExposure float64
	for _, o := range opps {
		bucket, _ := o.Evidence["bucket"].(string)
		bucketCounts[bucket]++
		totalExposure += o.PositionSize
	}

	riskSummary := map[string]any{
		"total_exposure":      totalExposure,
		"bucket_distribution": bucketCounts,
		"regime_average_correlation": regimeSnap.AverageCorrelation,
		"regime_leverage_factor":     regimeSnap.LeverageFactor,
		"regime_risk_off":            regimeSnap.RiskOff,
	}
	for i := range opps {
		if opps[i].Evidence == nil {
			opps[i].Evidence = map[string]any{}
		}
		opps[i].Evidence["risk_summary"] = riskSummary
	}

	result.Opportunities = opps
	return result, nil
}

// momentumLongBucket: composite z-score across horizons, trend aligned.
func (s *MultiBucketStrategy) momentumLongBucket(window market.MultiAssetWindow, closesByAsset map[string][]float64) []Opportunity {
	p := s.params
	var out []Opportunity
	for asset, bars := range window.Assets {
		c := closesByAsset[asset]
		if len(c) < 31 {
			continue
		}
		zs := make(map[int]float64, len(p.momentumHorizons))
		rets := make(map[int]float64, len(p.momentumHorizons))
		trendAligned := true
		for _, h := range p.momentumHorizons {
			if len(c) < h+1 {
				trendAligned = false
				continue
			}
			ret := (c[len(c)-1] - c[len(c)-1-h]) / c[len(c)-1-h]
			rets[h] = ret
			if ret <= 0 {
				trendAligned = false
			}
			series := rollingReturn(c, h)
			z, ok := analytics.ZFromData(ret, series)
			if !ok {
				z = 0
			}
			zs[h] = z
		}
		var composite float64
		for _, h := range p.momentumHorizons {
			composite += p.momentumWeights[h] * zs[h]
		}
		m7, m14, z30 := rets[7], rets[14], zs[30]
		accel := m7 - m14
		established := z30 > p.establishedTrendThreshold
		accelerating := accel > p.accelerationThreshold

		if composite <= p.compositeThreshold || rets[7] <= p.baseMomentumThreshold || !trendAligned {
			continue
		}
		if !accelerating && !established {
			continue
		}
		if composite <= 0 {
			continue
		}

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()
		confidence := clamp(0.5+composite/4, 0, 0.95)
		stop := price * 0.95
		target := price * 1.15
		strength := types.StrengthModerate
		if confidence > 0.75 {
			strength = types.StrengthStrong
		}

		out = append(out, Opportunity{
			Asset:        asset,
			SignalType:   types.SignalLong,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     strength,
			PositionSize: p.basePositionSize,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"bucket":            "momentum_long",
				"composite_zscore":  composite,
				"acceleration":      accel,
				"established_trend": established,
			},
		})
	}
	return out
}

// residualMomentumBucket: regress returns on the factor asset, z-score the
// last residual.
func (s *MultiBucketStrategy) residualMomentumBucket(window market.MultiAssetWindow, closesByAsset map[string][]float64, returnsByAsset map[string][]float64) []Opportunity {
	p := s.params
	factorReturns, ok := returnsByAsset[p.factorAsset]
	if !ok || len(factorReturns) < p.regressionWindow {
		return nil
	}
	var out []Opportunity
	for asset, bars := range window.Assets {
		if asset == p.factorAsset {
			continue
		}
		rets := returnsByAsset[asset]
		n := minInt(len(rets), len(factorReturns))
		if n < p.regressionWindow {
			continue
		}
		x := factorReturns[len(factorReturns)-n:]
		y := rets[len(rets)-n:]
		residuals, err := analytics.OLSResiduals(x, y)
		if err != nil || len(residuals) < p.residualWindow {
			continue
		}
		resWindow := residuals[len(residuals)-p.residualWindow:]
		z, ok := analytics.ZFromData(residuals[len(residuals)-1], resWindow)
		if !ok || math.Abs(z) <= p.residualThreshold {
			continue
		}

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()
		signalType := types.SignalLong
		if z < 0 {
			signalType = types.SignalShort
		}
		confidence := clamp(0.5+math.Abs(z)/4, 0, 0.9)
		positionSize := p.basePositionSize
		if math.Abs(z) > p.residualSizeBoostZ {
			positionSize = math.Min(p.maxPositionSize, p.basePositionSize*1.5)
		}

		var stop, target float64
		if signalType == types.SignalLong {
			stop, target = price*0.95, price*1.10
		} else {
			stop, target = price*1.05, price*0.90
		}

		out = append(out, Opportunity{
			Asset:        asset,
			SignalType:   signalType,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     types.StrengthModerate,
			PositionSize: positionSize,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"bucket":            "residual_momentum",
				"residual_zscore":   z,
				"regression_window": n,
			},
		})
	}
	return out
}

// meanReversionBucket: only active when cross-asset correlation is low.
func (s *MultiBucketStrategy) meanReversionBucket(window market.MultiAssetWindow, closesByAsset map[string][]float64) []Opportunity {
	p := s.params
	var out []Opportunity
	for asset, bars := range window.Assets {
		c := closesByAsset[asset]
		if len(c) < 8 {
			continue
		}
		ret7 := (c[len(c)-1] - c[len(c)-8]) / c[len(c)-8]
		series := rollingReturn(c, 7)
		z7, ok := analytics.ZFromData(ret7, series)
		if !ok {
			continue
		}

		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()
		var signalType types.SignalType
		switch {
		case z7 > p.overextensionThreshold && ret7 < 0:
			signalType = types.SignalShort
		case z7 < p.oversoldThreshold && ret7 > p.momentumStrengthThreshold:
			signalType = types.SignalLong
		default:
			continue
		}

		extension := math.Abs(z7)
		confidence := clamp(0.5+extension/4, 0, 0.85)
		var stop, target float64
		if signalType == types.SignalLong {
			stop = price * 0.98
			target = price * (1 + 0.3*extension/10)
		} else {
			stop = price * 1.02
			target = price * (1 - 0.3*extension/10)
		}

		out = append(out, Opportunity{
			Asset:        asset,
			SignalType:   signalType,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     types.StrengthModerate,
			PositionSize: p.basePositionSize * 0.75,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"bucket":  "mean_reversion",
				"z7":      z7,
				"ret7":    ret7,
			},
		})
	}
	return out
}

// pairTradeBucket: spread z-score entries gated on correlation behavior.
func (s *MultiBucketStrategy) pairTradeBucket(window market.MultiAssetWindow, closesByAsset map[string][]float64) []Opportunity {
	p := s.params
	var out []Opportunity
	for _, pair := range p.pairs {
		long, short := pair[0], pair[1]
		cl, okl := closesByAsset[long]
		cs, oks := closesByAsset[short]
		barsLong, hasLong := window.Assets[long]
		if !okl || !oks || !hasLong {
			continue
		}
		n := minInt(len(cl), len(cs))
		if n < p.pairSpreadWindow+7 {
			continue
		}
		spread := make([]float64, n)
		for i := 0; i < n; i++ {
			spread[i] = cl[len(cl)-n+i] - cs[len(cs)-n+i]
		}
		window30 := spread[len(spread)-p.pairSpreadWindow:]
		z, ok := analytics.ZFromData(spread[len(spread)-1], window30)
		if !ok || math.Abs(z) < p.pairEntryThreshold {
			continue
		}

		retL := simpleReturns(cl[len(cl)-n:])
		retS := simpleReturns(cs[len(cs)-n:])
		corr30 := analytics.RollingCorrelation(retL, retS, 30)
		corr7 := analytics.RollingCorrelation(retL, retS, 7)
		if len(corr30) == 0 || len(corr7) < 8 {
			continue
		}
		latest30 := lastFinite(corr30)
		latest7 := lastFinite(corr7)
		prior7 := corr7[len(corr7)-8]
		if math.IsNaN(latest30) || math.IsNaN(latest7) || math.IsNaN(prior7) {
			continue
		}
		if latest30 <= p.pairCorrelationThreshold {
			continue
		}
		if (prior7 - latest7) < p.pairCorrelationDeclineMin {
			continue
		}

		last := barsLong[len(barsLong)-1]
		price, _ := last.Close.Float64()
		signalType := types.SignalLong
		if z > 0 {
			signalType = types.SignalShort
		}
		confidence := clamp(0.5+math.Abs(z)/4, 0, 0.85)
		stop := price * 0.97
		target := price * 1.06
		if signalType == types.SignalShort {
			stop = price * 1.03
			target = price * 0.94
		}

		out = append(out, Opportunity{
			Asset:        long + "/" + short,
			SignalType:   signalType,
			TimestampMS:  last.TimestampMS,
			Price:        price,
			Confidence:   confidence,
			Strength:     types.StrengthModerate,
			PositionSize: p.basePositionSize * 0.5,
			StopLoss:     &stop,
			TakeProfit:   &target,
			Evidence: map[string]any{
				"bucket":        "pair_trade",
				"spread_zscore": z,
				"corr_30":       latest30,
				"corr_7":        latest7,
			},
		})
	}
	return out
}

func (s *MultiBucketStrategy) GenerateSignals(result AnalysisResult) ([]types.TradingSignal, error) {
	return buildSignals(result.StrategyName, result.Opportunities)
}

func simpleReturns(c []float64) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		if i == 0 || c[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (c[i] - c[i-1]) / c[i-1]
	}
	return out
}

func rollingReturn(c []float64, h int) []float64 {
	out := make([]float64, 0, len(c))
	for i := h; i < len(c); i++ {
		if c[i-h] == 0 {
			continue
		}
		out = append(out, (c[i]-c[i-h])/c[i-h])
	}
	return out
}

func crossAssetAverageCorrelation(returnsByAsset map[string][]float64, w int) (float64, bool) {
	assets := make([]string, 0, len(returnsByAsset))
	for a := range returnsByAsset {
		assets = append(assets, a)
	}
	var sum float64
	var count int
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			a, b := returnsByAsset[assets[i]], returnsByAsset[assets[j]]
			n := minInt(len(a), len(b))
			if n < w {
				continue
			}
			series := analytics.RollingCorrelation(a[len(a)-n:], b[len(b)-n:], w)
			v := lastFinite(series)
			if math.IsNaN(v) {
				continue
			}
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return math.NaN()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
