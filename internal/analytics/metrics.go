package analytics

import (
	"math"

	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// IndicatorMetrics computes one MacroIndicatorMetrics row for an
// indicator's observations at the given timeframe: the series is
// deduplicated, resampled, and trimmed to the trailing lookback bucket
// values, then the latest value is scored against that window (rate of
// change vs the prior bucket, z-score and normal-CDF percentile against
// the window's sample stats). ok is false when fewer than two finite
// values survive.
func IndicatorMetrics(indicator string, tf Timeframe, points []Point, lookback int) (types.MacroIndicatorMetrics, bool) {
	var m types.MacroIndicatorMetrics
	if lookback <= 0 {
		lookback = 30
	}

	resampled := Resample(DedupeLatest(points), tf)
	if len(resampled) > lookback {
		resampled = resampled[len(resampled)-lookback:]
	}

	values := make([]float64, 0, len(resampled))
	for _, p := range resampled {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			values = append(values, p.Value)
		}
	}
	if len(values) < 2 {
		return m, false
	}

	current := values[len(values)-1]
	previous := values[len(values)-2]

	mean, stddev, ok := SampleStats(values)
	if !ok {
		return m, false
	}

	m.Indicator = indicator
	m.Timeframe = string(tf)
	m.TimestampMS = resampled[len(resampled)-1].Time.UnixMilli()
	m.CurrentValue = current
	m.Mean = mean
	m.StdDev = stddev
	m.LookbackPeriod = len(values)

	if roc, rocOK, err := ROC(current, previous, ReturnNone); err == nil && rocOK {
		m.RateOfChange = roc
	}
	if z, zOK := ZScore(current, mean, stddev); zOK {
		m.ZScore = z
		m.PercentileRank = Percentile(z)
	} else {
		m.PercentileRank = 50
	}
	return m, true
}
