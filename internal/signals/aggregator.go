// Package signals aggregates TradingSignal output from multiple strategies
// into one conflict-free signal per asset.
package signals

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/errs"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// conflictAnalysis is the per-asset vote tally computed before a
// resolution policy is applied.
type conflictAnalysis struct {
	SignalCount    int                        `json:"signal_count"`
	UniqueTypes    map[types.SignalType]bool  `json:"-"`
	HasConflict    bool                       `json:"has_conflict"`
	HasOpposing    bool                       `json:"has_opposing"`
	DominantType   types.SignalType           `json:"dominant_type"`
	DominantWeight float64                    `json:"dominant_weight"`
	TypeWeights    map[types.SignalType]float64 `json:"type_weights"`
}

// Aggregator combines per-strategy signals into one per asset, resolving
// disagreement between strategies with a configurable policy.
type Aggregator struct {
	logger  *zap.Logger
	weights map[string]float64 // normalized strategy weights, sum to 1
	cfg     types.AggregatorConfig
}

// NewAggregator normalizes cfg.StrategyWeights to sum to 1 and returns the
// aggregator, or a BadConfig error if the weights sum to <= 0.
func NewAggregator(logger *zap.Logger, cfg types.AggregatorConfig) (*Aggregator, error) {
	var total float64
	for _, w := range cfg.StrategyWeights {
		total += w
	}
	if total <= 0 {
		return nil, errs.BadConfig(errs.Context{Component: "signals"}, "strategy weights must sum to a positive value")
	}
	normalized := make(map[string]float64, len(cfg.StrategyWeights))
	for name, w := range cfg.StrategyWeights {
		normalized[name] = w / total
	}
	if cfg.MinConfidenceThreshold == 0 {
		cfg.MinConfidenceThreshold = 0.1
	}
	if cfg.ConflictResolution == "" {
		cfg.ConflictResolution = types.ConflictWeightedAverage
	}
	if cfg.MaxPositionSize == 0 {
		cfg.MaxPositionSize = 0.10
	}
	if cfg.MinPositionSize == 0 {
		cfg.MinPositionSize = 0.005
	}
	if cfg.ConsensusThreshold == 0 {
		cfg.ConsensusThreshold = 0.7
	}
	cfg.StrategyWeights = normalized
	return &Aggregator{
		logger:  logger,
		weights: normalized,
		cfg:     cfg,
	}, nil
}

// Aggregate groups strategySignals by asset, resolves each group's
// conflicts per the configured policy, and returns the surviving signals
// sorted by (-confidence, -timestamp).
func (a *Aggregator) Aggregate(strategySignals map[string][]types.TradingSignal) []types.TradingSignal {
	if len(strategySignals) == 0 {
		return nil
	}

	byAsset := a.groupByAsset(strategySignals)

	out := make([]types.TradingSignal, 0, len(byAsset))
	for asset, sigs := range byAsset {
		resolved, ok := a.resolveAssetSignals(asset, sigs)
		if ok {
			out = append(out, resolved)
		}
	}
	sortSignals(out)

	a.logger.Info("aggregated signals",
		zap.Int("strategies", len(strategySignals)),
		zap.Int("assets", len(byAsset)),
		zap.Int("output", len(out)))

	return out
}

// groupByAsset drops signals from strategies outside the weight table and
// signals below the minimum confidence threshold, then groups the rest by
// asset.
func (a *Aggregator) groupByAsset(strategySignals map[string][]types.TradingSignal) map[string][]types.TradingSignal {
	byAsset := make(map[string][]types.TradingSignal)
	for strategyName, sigs := range strategySignals {
		if _, known := a.weights[strategyName]; !known {
			a.logger.Warn("unknown strategy in aggregation input", zap.String("strategy", strategyName))
			continue
		}
		for _, s := range sigs {
			if s.Confidence < a.cfg.MinConfidenceThreshold {
				continue
			}
			byAsset[s.Asset] = append(byAsset[s.Asset], s)
		}
	}
	return byAsset
}

// analyzeConflicts computes per-type weighted votes over sigs.
func (a *Aggregator) analyzeConflicts(sigs []types.TradingSignal) conflictAnalysis {
	typeWeights := make(map[types.SignalType]float64)
	unique := make(map[types.SignalType]bool)
	for _, s := range sigs {
		typeWeights[s.SignalType] += a.weights[s.StrategyName]
		unique[s.SignalType] = true
	}

	dominantType := types.SignalHold
	dominantWeight := 0.0
	for t, w := range typeWeights {
		if w > dominantWeight {
			dominantWeight = w
			dominantType = t
		}
	}

	hasConflict := len(unique) > 1 && !unique[types.SignalHold]
	hasOpposing := unique[types.SignalLong] && unique[types.SignalShort]

	return conflictAnalysis{
		SignalCount:    len(sigs),
		UniqueTypes:    unique,
		HasConflict:    hasConflict,
		HasOpposing:    hasOpposing,
		DominantType:   dominantType,
		DominantWeight: dominantWeight,
		TypeWeights:    typeWeights,
	}
}

// resolveAssetSignals applies the configured conflict-resolution policy to
// one asset's candidate signals.
func (a *Aggregator) resolveAssetSignals(asset string, sigs []types.TradingSignal) (types.TradingSignal, bool) {
	analysis := a.analyzeConflicts(sigs)

	switch a.cfg.ConflictResolution {
	case types.ConflictStrongestWins:
		return a.resolveStrongestWins(sigs)
	case types.ConflictConservative:
		if analysis.HasOpposing {
			return types.TradingSignal{}, false
		}
		if analysis.DominantWeight < 0.6 {
			return types.TradingSignal{}, false
		}
		return a.resolveWeightedAverage(asset, sigs, analysis)
	case types.ConflictConsensusThreshold:
		if analysis.DominantWeight < a.cfg.ConsensusThreshold {
			return types.TradingSignal{}, false
		}
		return a.resolveWeightedAverage(asset, sigs, analysis)
	case types.ConflictRiskWeighted:
		return a.resolveRiskWeighted(sigs, analysis)
	default: // weighted_average
		return a.resolveWeightedAverage(asset, sigs, analysis)
	}
}

// resolveWeightedAverage combines every signal sharing the dominant type
// (plus any HOLD signals) using effective weight strategy_weight×confidence.
func (a *Aggregator) resolveWeightedAverage(asset string, sigs []types.TradingSignal, analysis conflictAnalysis) (types.TradingSignal, bool) {
	if analysis.HasOpposing && a.cfg.RequireMajorityAgreement && analysis.DominantWeight <= 0.5 {
		return types.TradingSignal{}, false
	}

	finalType := analysis.DominantType
	if finalType == types.SignalHold {
		return types.TradingSignal{}, false
	}

	var relevant []types.TradingSignal
	for _, s := range sigs {
		if s.SignalType == finalType || s.SignalType == types.SignalHold {
			relevant = append(relevant, s)
		}
	}

	var totalWeight, wConfidence, wPosition, wPrice, wStop, wTake, wMaxRisk float64
	var latestTS int64
	var strategies []string

	for _, s := range relevant {
		sw := a.weights[s.StrategyName]
		effective := sw * s.Confidence
		totalWeight += effective

		wConfidence += s.Confidence * effective
		wPosition += s.PositionSize * effective
		price, _ := s.Price.Float64()
		wPrice += price * effective

		if s.StopLoss != nil {
			v, _ := s.StopLoss.Float64()
			wStop += v * effective
		}
		if s.TakeProfit != nil {
			v, _ := s.TakeProfit.Float64()
			wTake += v * effective
		}
		if s.MaxRisk != nil {
			wMaxRisk += *s.MaxRisk * effective
		}

		if s.TimestampMS > latestTS {
			latestTS = s.TimestampMS
		}
		strategies = append(strategies, s.StrategyName)
	}

	if totalWeight == 0 {
		return types.TradingSignal{}, false
	}

	finalConfidence := clampF(wConfidence/totalWeight, 0, 1)
	finalPosition := wPosition / totalWeight
	finalPosition = math.Max(a.cfg.MinPositionSize, math.Min(a.cfg.MaxPositionSize, finalPosition))
	finalPrice := wPrice / totalWeight

	var finalStop, finalTake *decimal.Decimal
	if wStop > 0 {
		d := decimal.NewFromFloat(wStop / totalWeight)
		finalStop = &d
	}
	if wTake > 0 {
		d := decimal.NewFromFloat(wTake / totalWeight)
		finalTake = &d
	}
	var finalMaxRisk *float64
	if wMaxRisk > 0 {
		v := wMaxRisk / totalWeight
		finalMaxRisk = &v
	}

	strength := types.StrengthWeak
	switch {
	case finalConfidence > 0.7 && analysis.DominantWeight > 0.7:
		strength = types.StrengthStrong
	case finalConfidence > 0.5 && analysis.DominantWeight > 0.5:
		strength = types.StrengthModerate
	}

	sig, err := types.NewTradingSignal(types.TradingSignal{
		Asset:          asset,
		SignalType:     finalType,
		TimestampMS:    latestTS,
		Price:          decimal.NewFromFloat(finalPrice),
		StrategyName:   "aggregated_signal",
		SignalStrength: strength,
		Confidence:     finalConfidence,
		PositionSize:   finalPosition,
		StopLoss:       finalStop,
		TakeProfit:     finalTake,
		MaxRisk:        finalMaxRisk,
		AnalysisData: map[string]any{
			"aggregation_method":    "weighted_average",
			"strategies_combined":   strategies,
			"total_effective_weight": totalWeight,
			"original_signals_count": len(sigs),
			"relevant_signals_count": len(relevant),
		},
	})
	if err != nil {
		a.logger.Warn("dropping invalid aggregated signal", zap.String("asset", asset), zap.Error(err))
		return types.TradingSignal{}, false
	}
	return sig, true
}

// resolveStrongestWins picks the signal maximizing confidence×strategy_weight.
func (a *Aggregator) resolveStrongestWins(sigs []types.TradingSignal) (types.TradingSignal, bool) {
	var best *types.TradingSignal
	var bestScore float64
	for i := range sigs {
		s := sigs[i]
		score := s.Confidence * a.weights[s.StrategyName]
		if best == nil || score > bestScore {
			best = &sigs[i]
			bestScore = score
		}
	}
	if best == nil {
		return types.TradingSignal{}, false
	}
	out := *best
	out.StrategyName = "aggregated_signal"
	out.PositionSize = math.Min(a.cfg.MaxPositionSize, out.PositionSize)
	out.AnalysisData = mergeAnalysis(best.AnalysisData, map[string]any{
		"aggregation_method": "strongest_wins",
		"selected_strategy":  best.StrategyName,
		"selection_score":    bestScore,
	})
	return out, true
}

// resolveRiskWeighted scores each signal by
// confidence×strategy_weight×min(risk_reward_ratio,3.0), where the ratio
// defaults to 1 when stop/take levels are missing.
func (a *Aggregator) resolveRiskWeighted(sigs []types.TradingSignal, analysis conflictAnalysis) (types.TradingSignal, bool) {
	var best *types.TradingSignal
	var bestScore float64
	for i := range sigs {
		s := sigs[i]
		rr := 1.0
		if s.StopLoss != nil && s.TakeProfit != nil {
			price, _ := s.Price.Float64()
			stop, _ := s.StopLoss.Float64()
			take, _ := s.TakeProfit.Float64()
			downside := math.Abs(price - stop)
			upside := math.Abs(take - price)
			if downside > 0 {
				rr = upside / downside
			}
		}
		score := s.Confidence * a.weights[s.StrategyName] * math.Min(rr, 3.0)
		if best == nil || score > bestScore {
			best = &sigs[i]
			bestScore = score
		}
	}
	if best == nil {
		return types.TradingSignal{}, false
	}
	out := *best
	out.StrategyName = "risk_weighted_signal"
	out.PositionSize = math.Min(a.cfg.MaxPositionSize, out.PositionSize)
	out.AnalysisData = mergeAnalysis(best.AnalysisData, map[string]any{
		"aggregation_method": "risk_weighted",
		"selected_strategy":  best.StrategyName,
		"risk_adjusted_score": bestScore,
	})
	return out, true
}

// GetAggregationStats reports per-strategy counts and a conflict analysis
// for every asset with more than one candidate signal, without aggregating.
func (a *Aggregator) GetAggregationStats(strategySignals map[string][]types.TradingSignal) map[string]any {
	totalSignals := 0
	perStrategy := make(map[string]int, len(strategySignals))
	for name, sigs := range strategySignals {
		perStrategy[name] = len(sigs)
		totalSignals += len(sigs)
	}

	byAsset := a.groupByAsset(strategySignals)
	conflicts := make(map[string]conflictAnalysis)
	for asset, sigs := range byAsset {
		if len(sigs) > 1 {
			conflicts[asset] = a.analyzeConflicts(sigs)
		}
	}

	return map[string]any{
		"strategy_count":       len(strategySignals),
		"total_signals":        totalSignals,
		"signals_per_strategy": perStrategy,
		"strategy_weights":     a.weights,
		"conflict_analysis":    conflicts,
		"assets_with_conflicts": len(conflicts),
		"total_unique_assets":  len(byAsset),
	}
}

// GetConflictReport analyzes signals (already grouped by whatever caller
// assembled them) for conflicts and attaches an info/warning/action
// recommendation to each affected asset.
func (a *Aggregator) GetConflictReport(sigs []types.TradingSignal) map[string]any {
	report := map[string]any{
		"total_signals": len(sigs),
		"conflicts":     map[string]any{},
	}
	if len(sigs) == 0 {
		return report
	}

	byAsset := make(map[string][]types.TradingSignal)
	for _, s := range sigs {
		byAsset[s.Asset] = append(byAsset[s.Asset], s)
	}

	conflictsByAsset := make(map[string]any)
	assetsWithConflicts := 0
	assetsWithOpposing := 0
	resolutionRequired := 0

	for asset, assetSigs := range byAsset {
		if len(assetSigs) <= 1 {
			continue
		}
		analysis := a.analyzeConflicts(assetSigs)
		if !analysis.HasConflict {
			continue
		}
		assetsWithConflicts++
		if analysis.HasOpposing {
			assetsWithOpposing++
		}

		rec := recommendationFor(asset, analysis)
		if rec["action"] != "no_action" {
			resolutionRequired++
		}

		conflictsByAsset[asset] = map[string]any{
			"signal_count":              analysis.SignalCount,
			"has_opposing":              analysis.HasOpposing,
			"dominant_type":             analysis.DominantType,
			"dominant_weight":           analysis.DominantWeight,
			"resolution_recommendation": rec,
		}
	}

	report["conflicts"] = conflictsByAsset
	report["conflict_summary"] = map[string]any{
		"assets_with_conflicts":        assetsWithConflicts,
		"assets_with_opposing_signals": assetsWithOpposing,
		"total_conflicts":              assetsWithConflicts,
		"resolution_required":          resolutionRequired,
	}
	report["unique_assets"] = len(byAsset)
	report["resolution_recommendations"] = overallRecommendations(len(byAsset), assetsWithConflicts, assetsWithOpposing, resolutionRequired)
	return report
}

func recommendationFor(asset string, analysis conflictAnalysis) map[string]any {
	rec := map[string]any{
		"asset":      asset,
		"action":     "no_action",
		"reason":     "",
		"confidence": 0.0,
	}
	if !analysis.HasConflict {
		rec["reason"] = "no conflict detected"
		return rec
	}
	switch {
	case analysis.HasOpposing && analysis.DominantWeight > 0.7:
		rec["action"] = "resolve_with_dominant"
		rec["reason"] = "strong dominant signal"
		rec["confidence"] = analysis.DominantWeight
	case analysis.HasOpposing && analysis.DominantWeight > 0.5:
		rec["action"] = "resolve_with_caution"
		rec["reason"] = "moderate dominant signal"
		rec["confidence"] = analysis.DominantWeight
	case analysis.HasOpposing:
		rec["action"] = "avoid_trade"
		rec["reason"] = "weak dominant signal"
	default:
		rec["action"] = "aggregate"
		rec["reason"] = "same-direction signals, safe to aggregate"
		rec["confidence"] = analysis.DominantWeight
	}
	return rec
}

func overallRecommendations(uniqueAssets, withConflicts, withOpposing, resolutionRequired int) []map[string]any {
	var out []map[string]any
	if uniqueAssets > 0 {
		rate := float64(withConflicts) / float64(uniqueAssets)
		if rate > 0.5 {
			out = append(out, map[string]any{
				"type":    "warning",
				"message": "high conflict rate, consider reviewing strategy weights",
			})
		}
	}
	if withOpposing > 0 {
		out = append(out, map[string]any{
			"type":    "info",
			"message": "assets have opposing signals",
		})
	}
	if resolutionRequired > 0 {
		out = append(out, map[string]any{
			"type":    "action",
			"message": "conflicts require resolution",
		})
	}
	return out
}

// ResolveSignalConflicts is a standalone conflict-resolution entry point:
// given a flat list of signals from any source, drop those below cfg's
// minimum confidence, group the rest by asset, and apply cfg's
// resolution policy to each group.
func ResolveSignalConflicts(logger *zap.Logger, cfg types.AggregatorConfig, sigs []types.TradingSignal) ([]types.TradingSignal, error) {
	a, err := NewAggregator(logger, cfg)
	if err != nil {
		return nil, err
	}

	byAsset := make(map[string][]types.TradingSignal)
	for _, s := range sigs {
		if s.Confidence < a.cfg.MinConfidenceThreshold {
			continue
		}
		byAsset[s.Asset] = append(byAsset[s.Asset], s)
	}

	out := make([]types.TradingSignal, 0, len(byAsset))
	for asset, assetSigs := range byAsset {
		if len(assetSigs) == 1 {
			out = append(out, assetSigs[0])
			continue
		}
		resolved, ok := a.resolveAssetSignals(asset, assetSigs)
		if ok {
			out = append(out, resolved)
		}
	}
	sortSignals(out)
	return out, nil
}

func sortSignals(sigs []types.TradingSignal) {
	sort.SliceStable(sigs, func(i, j int) bool {
		if sigs[i].Confidence != sigs[j].Confidence {
			return sigs[i].Confidence > sigs[j].Confidence
		}
		return sigs[i].TimestampMS > sigs[j].TimestampMS
	})
}

func mergeAnalysis(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
