// Package analytics implements the macro-indicator analytics primitives:
// rate-of-change, z-score, rolling variants, timeframe resampling, and
// the correlation/regression helpers the strategy layer builds on.
package analytics

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/internal/errs"
)

// ZeroHandling controls roc's behavior when previous == 0.
type ZeroHandling int

const (
	RaiseError ZeroHandling = iota
	ReturnNone
	ReturnInf
	UseAbsolute
)

// ROC computes the rate of change (current-previous)/previous*100. When
// previous is zero, behavior follows mode. Non-finite inputs are
// rejected with BadNumber.
func ROC(current, previous float64, mode ZeroHandling) (float64, bool, error) {
	ctx := errs.Context{Component: "analytics.roc"}
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return 0, false, errs.BadNumber(ctx, "current is not finite")
	}
	if math.IsNaN(previous) || math.IsInf(previous, 0) {
		return 0, false, errs.BadNumber(ctx, "previous is not finite")
	}
	if previous == 0 {
		switch mode {
		case RaiseError:
			return 0, false, errs.BadNumber(ctx, "previous is zero")
		case ReturnNone:
			return 0, false, nil
		case ReturnInf:
			if current > 0 {
				return math.Inf(1), true, nil
			} else if current < 0 {
				return math.Inf(-1), true, nil
			}
			return 0, true, nil
		case UseAbsolute:
			return current, true, nil
		}
	}
	return (current - previous) / previous * 100, true, nil
}

// RollingROC returns a series the same length as series, shifted by
// period: entry i is ROC(series[i], series[i-period]) for i>=period, and
// NaN for i<period. A series shorter than period yields an empty slice.
func RollingROC(series []float64, period int, mode ZeroHandling) []float64 {
	if len(series) < period {
		return []float64{}
	}
	out := make([]float64, len(series))
	for i := range out {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		v, ok, err := ROC(series[i], series[i-period], mode)
		if err != nil || !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

// AnnualizedROC annualizes a multi-period return: ((cur/prev)^(periodsPerYear/periods) - 1) * 100.
// Returns ok=false when prev <= 0 (no error — this is a defined "no value" case).
func AnnualizedROC(cur, prev float64, periods, periodsPerYear int) (float64, bool) {
	if prev <= 0 || periods <= 0 {
		return 0, false
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	ratio := cur / prev
	if ratio <= 0 {
		return 0, false
	}
	exp := float64(periodsPerYear) / float64(periods)
	return (math.Pow(ratio, exp) - 1) * 100, true
}
