package analytics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingCorrelation computes a rolling Pearson correlation of a and b
// (equal length) over windows of size w, emitting NaN until a full
// window of finite pairs is available.
func RollingCorrelation(a, b []float64, w int) []float64 {
	n := len(a)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i+1 < w {
			out[i] = math.NaN()
			continue
		}
		start := i - w + 1
		xs, ys := cleanPairs(a[start:i+1], b[start:i+1])
		if len(xs) < 2 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Correlation(xs, ys, nil)
	}
	return out
}

// LongestFittingCorrelation evaluates correlation at each candidate
// window and reports the value from the longest window the series fully
// covers.
func LongestFittingCorrelation(a, b []float64, windows []int) (float64, int, bool) {
	best := 0
	bestVal := math.NaN()
	found := false
	for _, w := range windows {
		if len(a) < w {
			continue
		}
		xs, ys := cleanPairs(a[len(a)-w:], b[len(b)-w:])
		if len(xs) < 2 {
			continue
		}
		if w > best {
			best = w
			bestVal = stat.Correlation(xs, ys, nil)
			found = true
		}
	}
	return bestVal, best, found
}

func cleanPairs(a, b []float64) (xs, ys []float64) {
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) || math.IsInf(a[i], 0) || math.IsInf(b[i], 0) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[i])
	}
	return xs, ys
}

// OLSResiduals regresses y on x (simple linear regression with
// intercept) and returns the residuals y - predicted, used by the
// multi-bucket strategy to strip BTC-beta exposure before computing
// residual momentum. Non-finite pairs are dropped before fitting, so
// the residual series covers only the finite observations.
func OLSResiduals(x, y []float64) ([]float64, error) {
	xs, ys := cleanPairs(x, y)
	if len(xs) < 2 {
		return nil, errors.New("ols: need at least 2 finite (x,y) pairs")
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	residuals := make([]float64, len(ys))
	for i := range ys {
		predicted := alpha + beta*xs[i]
		residuals[i] = ys[i] - predicted
	}
	return residuals, nil
}
