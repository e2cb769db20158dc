// Package regime tracks the correlation regime across a basket of assets
// and derives a leverage factor from it, the control bucket multi_bucket
// uses to cut position sizes when the basket starts moving as one trade.
package regime

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// RegimeConfig bounds the correlation-regime classification.
type RegimeConfig struct {
	Windows                  []int   // pairwise-correlation windows to average, e.g. {7,30,90}
	LowCorrelationThreshold  float64 // below this, leverage factor is 1.0
	HighCorrelationThreshold float64 // at/above this, leverage factor is LeverageReductionFactor
	LeverageReductionFactor  float64 // leverage floor once correlation is high
	RegimeShiftThreshold     float64 // |delta average correlation| that triggers risk-off
	HistorySize              int     // bounded snapshot history retained
}

// DefaultRegimeConfig returns the standard regime-control thresholds.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		Windows:                  []int{7, 30, 90},
		LowCorrelationThreshold:  0.3,
		HighCorrelationThreshold: 0.7,
		LeverageReductionFactor:  0.5,
		RegimeShiftThreshold:     0.2,
		HistorySize:              200,
	}
}

// Snapshot is one regime evaluation's result.
type Snapshot struct {
	Timestamp          time.Time
	WindowCorrelations map[int]float64
	AverageCorrelation float64
	LeverageFactor     float64
	RiskOff            bool
}

// CorrelationRegimeMonitor is a mutex-guarded, stateful evaluator: each
// Evaluate call is compared against the previous one to detect a sudden
// correlation regime shift.
type CorrelationRegimeMonitor struct {
	logger *zap.Logger
	cfg    RegimeConfig

	mu       sync.Mutex
	history  []Snapshot
	hasPrior bool
	prior    float64
}

// NewCorrelationRegimeMonitor constructs a monitor with cfg (zero-value
// fields fall back to DefaultRegimeConfig's corresponding value).
func NewCorrelationRegimeMonitor(logger *zap.Logger, cfg RegimeConfig) *CorrelationRegimeMonitor {
	def := DefaultRegimeConfig()
	if len(cfg.Windows) == 0 {
		cfg.Windows = def.Windows
	}
	if cfg.LowCorrelationThreshold == 0 {
		cfg.LowCorrelationThreshold = def.LowCorrelationThreshold
	}
	if cfg.HighCorrelationThreshold == 0 {
		cfg.HighCorrelationThreshold = def.HighCorrelationThreshold
	}
	if cfg.LeverageReductionFactor == 0 {
		cfg.LeverageReductionFactor = def.LeverageReductionFactor
	}
	if cfg.RegimeShiftThreshold == 0 {
		cfg.RegimeShiftThreshold = def.RegimeShiftThreshold
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &CorrelationRegimeMonitor{logger: logger, cfg: cfg}
}

// Evaluate computes pairwise correlations across all asset pairs in
// returnsByAsset for each configured window, averages per-window pair
// correlations, then averages those window values into one regime score.
// The resulting leverage factor and risk-off flag feed multi_bucket's
// regime-control bucket.
func (m *CorrelationRegimeMonitor) Evaluate(returnsByAsset map[string][]float64) Snapshot {
	assets := make([]string, 0, len(returnsByAsset))
	for a := range returnsByAsset {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	windowCorr := make(map[int]float64, len(m.cfg.Windows))
	var windowSum float64
	var windowCount int
	for _, w := range m.cfg.Windows {
		avg, ok := averagePairwiseCorrelation(returnsByAsset, assets, w)
		if !ok {
			continue
		}
		windowCorr[w] = avg
		windowSum += avg
		windowCount++
	}

	var average float64
	if windowCount > 0 {
		average = windowSum / float64(windowCount)
	}

	leverage := leverageFactor(average, m.cfg.LowCorrelationThreshold, m.cfg.HighCorrelationThreshold, m.cfg.LeverageReductionFactor)

	m.mu.Lock()
	defer m.mu.Unlock()

	riskOff := false
	if m.hasPrior {
		delta := average - m.prior
		if delta < 0 {
			delta = -delta
		}
		riskOff = delta > m.cfg.RegimeShiftThreshold && average > 0.25
	}
	m.prior = average
	m.hasPrior = true

	snap := Snapshot{
		Timestamp:          time.Now().UTC(),
		WindowCorrelations: windowCorr,
		AverageCorrelation: average,
		LeverageFactor:     leverage,
		RiskOff:            riskOff,
	}
	if riskOff {
		snap.LeverageFactor = leverage * m.cfg.LeverageReductionFactor
	}

	m.history = append(m.history, snap)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	return snap
}

// History returns the bounded snapshot history, oldest first.
func (m *CorrelationRegimeMonitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// leverageFactor linearly interpolates between 1.0 (at/below low) and
// reduction (at/above high); values between interpolate.
func leverageFactor(avg, low, high, reduction float64) float64 {
	switch {
	case avg <= low:
		return 1.0
	case avg >= high:
		return reduction
	default:
		frac := (avg - low) / (high - low)
		return 1.0 - frac*(1.0-reduction)
	}
}

// averagePairwiseCorrelation computes the mean Pearson correlation of
// every asset pair's trailing w returns.
func averagePairwiseCorrelation(returnsByAsset map[string][]float64, assets []string, w int) (float64, bool) {
	var sum float64
	var count int
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			a, b := returnsByAsset[assets[i]], returnsByAsset[assets[j]]
			if len(a) < w || len(b) < w {
				continue
			}
			xa, xb := cleanTrailing(a, b, w)
			if len(xa) < 2 {
				continue
			}
			corr := stat.Correlation(xa, xb, nil)
			if isBad(corr) {
				continue
			}
			sum += corr
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func cleanTrailing(a, b []float64, w int) (xs, ys []float64) {
	ta, tb := a[len(a)-w:], b[len(b)-w:]
	for i := range ta {
		x, y := ta[i], tb[i]
		if isBad(x) || isBad(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

func isBad(v float64) bool {
	return v != v // NaN check without importing math for one use
}
