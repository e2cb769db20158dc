package analytics

import "math"

const minSigma = 1e-10

// ZScore computes (x-mean)/sigma, returning ok=false when |sigma| is too
// small to divide by safely.
func ZScore(x, mean, sigma float64) (float64, bool) {
	if math.Abs(sigma) < minSigma {
		return 0, false
	}
	return (x - mean) / sigma, true
}

// SampleStats returns the sample mean and sample standard deviation
// (ddof=1) of the finite values in data. Requires at least 2 finite
// points; otherwise ok is false.
func SampleStats(data []float64) (mean, stddev float64, ok bool) {
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
	var sqSum float64
	for _, v := range finite {
		d := v - mean
		sqSum += d * d
	}
	stddev = math.Sqrt(sqSum / float64(len(finite)-1))
	return mean, stddev, true
}

// ZFromData computes x's z-score against the sample mean/std of data.
func ZFromData(x float64, data []float64) (float64, bool) {
	mean, sigma, ok := SampleStats(data)
	if !ok {
		return 0, false
	}
	return ZScore(x, mean, sigma)
}

// RollingZScore computes a rolling z-score of series over window w,
// requiring at least minPeriods finite observations in the window
// (default 2 when minPeriods<=0). ±Inf results are replaced with NaN.
func RollingZScore(series []float64, w, minPeriods int) []float64 {
	if minPeriods <= 0 {
		minPeriods = 2
	}
	out := make([]float64, len(series))
	for i := range series {
		start := i - w + 1
		if start < 0 {
			start = 0
		}
		window := series[start : i+1]
		finite := 0
		for _, v := range window {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				finite++
			}
		}
		mean, sigma, ok := SampleStats(window)
		if !ok || finite < minPeriods {
			out[i] = math.NaN()
			continue
		}
		z, zok := ZScore(series[i], mean, sigma)
		if !zok || math.IsInf(z, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = z
	}
	return out
}

// Percentile converts a z-score to a percentile rank in [0,100] via the
// normal CDF: (1+erf(z/sqrt(2)))/2 * 100.
func Percentile(z float64) float64 {
	return (1 + math.Erf(z/math.Sqrt2)) / 2 * 100
}
