// Package strategy provides the strategy contract, registry, and the
// five concrete signal-generating strategies.
package strategy

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// AnalysisResult is the structured output of Analyze: the per-asset
// opportunities it found. Each Opportunity carries the evidence that
// drove it in Evidence, a free-form map (there is no typed per-strategy
// evidence struct) that becomes the emitted TradingSignal's AnalysisData
// at GenerateSignals time, so downstream consumers never lose the fields
// that drove a decision (e.g. vix_level, drawdown_from_high).
type AnalysisResult struct {
	StrategyName string
	Opportunities []Opportunity
}

// Opportunity is one candidate signal a strategy's analysis produced,
// before construction into a TradingSignal.
type Opportunity struct {
	Asset            string
	SignalType       types.SignalType
	TimestampMS      int64
	Price            float64
	Confidence       float64
	Strength         types.SignalStrength
	PositionSize     float64
	StopLoss         *float64
	TakeProfit       *float64
	MaxRisk          *float64
	CorrelationValue *float64
	Evidence         map[string]any
}

// Strategy is the uniform contract every concrete strategy implements.
type Strategy interface {
	Name() string
	Configure(cfg types.StrategyConfig) error
	Analyze(window market.MultiAssetWindow) (AnalysisResult, error)
	GenerateSignals(result AnalysisResult) ([]types.TradingSignal, error)
	Parameters() map[string]any
}

// buildSignals is shared by every concrete strategy's GenerateSignals:
// it turns Opportunities into validated TradingSignals, stamping
// signal_id, direction, and created_at per the data model's construction
// invariants, and passing each Opportunity's Evidence map on as the
// signal's AnalysisData.
func buildSignals(strategyName string, opportunities []Opportunity) ([]types.TradingSignal, error) {
	out := make([]types.TradingSignal, 0, len(opportunities))
	for _, o := range opportunities {
		sig := types.TradingSignal{
			Asset:            o.Asset,
			SignalType:       o.SignalType,
			TimestampMS:      o.TimestampMS,
			Price:            decimal.NewFromFloat(o.Price),
			StrategyName:     strategyName,
			SignalStrength:   o.Strength,
			Confidence:       o.Confidence,
			PositionSize:     o.PositionSize,
			MaxRisk:          o.MaxRisk,
			AnalysisData:     o.Evidence,
			CorrelationValue: o.CorrelationValue,
		}
		if o.StopLoss != nil {
			d := decimal.NewFromFloat(*o.StopLoss)
			sig.StopLoss = &d
		}
		if o.TakeProfit != nil {
			d := decimal.NewFromFloat(*o.TakeProfit)
			sig.TakeProfit = &d
		}
		built, err := types.NewTradingSignal(sig)
		if err != nil {
			// A strategy producing an invalid signal is a bug in the
			// strategy, not a per-asset data failure; surface it.
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}

// Registry discovers strategy constructors by name. Names are
// normalized by lowercasing and stripping separators.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]func() Strategy
}

// NewRegistry returns a registry with the five built-in strategies
// registered.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]func() Strategy)}
	r.Register("vix_correlation", func() Strategy { return NewVIXCorrelationStrategy() })
	r.Register("mean_reversion", func() Strategy { return NewMeanReversionStrategy() })
	r.Register("volatility_breakout", func() Strategy { return NewVolatilityBreakoutStrategy() })
	r.Register("momentum", func() Strategy { return NewMomentumStrategy() })
	r.Register("multi_bucket_portfolio", func() Strategy { return NewMultiBucketStrategy() })
	return r
}

// NormalizeName lowercases name and strips separators ('-', '_', ' ').
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
	return name
}

// Register adds a named constructor, rejecting a nil factory.
func (r *Registry) Register(name string, ctor func() Strategy) {
	if ctor == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[NormalizeName(name)] = ctor
}

// Create instantiates a strategy by (normalized) name.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[NormalizeName(name)]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// List returns all registered (normalized) strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	return names
}
