package strategy

import (
	"math"
	"sort"

	talib "github.com/markcheno/go-talib"

	"github.com/sqryxz/mts-signal-pipeline/internal/market"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func closes(bars []market.CombinedBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		f, _ := b.Close.Float64()
		out[i] = f
	}
	return out
}

func vixSeries(bars []market.CombinedBar) ([]float64, int) {
	out := make([]float64, len(bars))
	n := 0
	for i, b := range bars {
		if b.VIXValue != nil {
			out[i] = *b.VIXValue
			n++
		} else {
			out[i] = math.NaN()
		}
	}
	return out, n
}

// rsiLast returns the last RSI(period) value, false if there isn't
// enough history.
func rsiLast(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	series := talib.Rsi(closes, period)
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return 0, false
	}
	return last, true
}

// smaLast returns the last SMA(period) value, false if unavailable.
func smaLast(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	series := talib.Sma(closes, period)
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return 0, false
	}
	return last, true
}

// logReturns computes consecutive log returns. The output has the same
// length as the input; its first entry, and any entry next to a
// non-positive price, is NaN.
func logReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i == 0 || closes[i-1] <= 0 || closes[i] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(closes[i] / closes[i-1])
	}
	return out
}

// rollingStdAnnualized returns the trailing-window standard deviation of
// returns at each point, annualized by sqrt(252).
func rollingStdAnnualized(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	for i := range returns {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		win := returns[start : i+1]
		_, sd, ok := sampleStdOnly(win)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = sd * math.Sqrt(252)
	}
	return out
}

func sampleStdOnly(data []float64) (mean, std float64, ok bool) {
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) < 2 {
		return 0, 0, false
	}
	var sum float64
	for _, v := range finite {
		sum += v
	}
	mean = sum / float64(len(finite))
	var sq float64
	for _, v := range finite {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(finite)-1)), true
}

// empiricalPercentile returns the p-th percentile (0-100) of data using
// linear interpolation between closest ranks.
func empiricalPercentile(data []float64, p float64) (float64, bool) {
	clean := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0, false
	}
	sort.Float64s(clean)
	if len(clean) == 1 {
		return clean[0], true
	}
	rank := p / 100 * float64(len(clean)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return clean[lo], true
	}
	frac := rank - float64(lo)
	return clean[lo]*(1-frac) + clean[hi]*frac, true
}

// percentileRankOf returns the fraction (0-100) of history at or below
// value.
func percentileRankOf(value float64, history []float64) float64 {
	clean := make([]float64, 0, len(history))
	for _, v := range history {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}
	count := 0
	for _, v := range clean {
		if v <= value {
			count++
		}
	}
	return float64(count) / float64(len(clean)) * 100
}

func rollingMax(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		max := math.Inf(-1)
		for _, v := range series[start : i+1] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

func strengthFromAbsR(absR float64) string {
	switch {
	case absR >= 0.7:
		return "VERY_STRONG"
	case absR >= 0.5:
		return "STRONG"
	case absR >= 0.3:
		return "MODERATE"
	case absR >= 0.1:
		return "WEAK"
	default:
		return "NEGLIGIBLE"
	}
}
