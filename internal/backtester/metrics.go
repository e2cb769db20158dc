// Package backtester provides point-in-time historical simulation:
// portfolio accounting, trade execution, and return/risk metrics.
package backtester

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// daysPerYear pins the backtest's daily-return annualization to 365
// (crypto trades every calendar day), distinct from the macro
// analytics package's 252-period AnnualizedROC used for trading-day
// series.
const daysPerYear = 365.0

// computePerformance derives the return/risk metric group from the
// daily return series and equity curve.
func computePerformance(dailyReturns []float64, equityCurve []decimal.Decimal, days int) types.PerformanceMetrics {
	var m types.PerformanceMetrics
	if len(equityCurve) < 2 || equityCurve[0].IsZero() {
		return m
	}
	totalReturn, _ := equityCurve[len(equityCurve)-1].Div(equityCurve[0]).Sub(decimal.NewFromInt(1)).Float64()
	m.TotalReturn = totalReturn

	if days > 0 {
		m.AnnualizedReturn = math.Pow(1+totalReturn, daysPerYear/float64(days)) - 1
	}

	_, std := meanStd(dailyReturns)
	m.Volatility = std * math.Sqrt(daysPerYear)
	if m.Volatility != 0 {
		m.Sharpe = m.AnnualizedReturn / m.Volatility
	}

	drawdowns := drawdownSeries(equityCurve)
	minDD := 0.0
	for _, dd := range drawdowns {
		if dd < minDD {
			minDD = dd
		}
	}
	m.MaxDrawdown = math.Abs(minDD)
	if m.MaxDrawdown != 0 {
		m.Calmar = m.AnnualizedReturn / m.MaxDrawdown
	}

	m.VaR95 = percentile(dailyReturns, 5)
	return m
}

// drawdownSeries computes, for each equity-curve point, the non-positive
// fraction below the running peak observed so far; values stay in [-1, 0].
func drawdownSeries(equity []decimal.Decimal) []float64 {
	out := make([]float64, len(equity))
	if len(equity) == 0 {
		return out
	}
	peak := equity[0]
	for i, e := range equity {
		if e.GreaterThan(peak) {
			peak = e
		}
		if peak.IsZero() {
			out[i] = 0
			continue
		}
		dd, _ := e.Sub(peak).Div(peak).Float64()
		if dd > 0 {
			dd = 0
		}
		out[i] = dd
	}
	return out
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(xs)-1))
	return mean, std
}

// percentile returns the p-th percentile (0-100) of xs by linear
// interpolation between order statistics (VaR-95 uses p=5).
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// computeTradingStatistics derives win rate and average win/loss returns
// from the trade log's realized P&L entries. Opening (LONG) entries
// always carry zero P&L by construction; only closes (SHORT, against an
// existing long) realize P&L.
func computeTradingStatistics(log []types.TradeLogEntry) types.TradingStatistics {
	var stats types.TradingStatistics
	var winSum, lossSum float64
	for _, t := range log {
		stats.TotalTrades++
		if t.SignalType != types.SignalShort {
			continue
		}
		pnl, _ := t.PnL.Float64()
		if pnl > 0 {
			stats.WinningTrades++
			winSum += pnl
		} else if pnl < 0 {
			stats.LosingTrades++
			lossSum += pnl
		}
	}
	closed := stats.WinningTrades + stats.LosingTrades
	if closed > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(closed)
	}
	if stats.WinningTrades > 0 {
		stats.AvgWinReturn = winSum / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLossReturn = lossSum / float64(stats.LosingTrades)
	}
	return stats
}

// computeSignalStatistics counts generated signals by type.
func computeSignalStatistics(signals []types.TradingSignal) types.SignalStatistics {
	counts := make(map[types.SignalType]int)
	for _, s := range signals {
		counts[s.SignalType]++
	}
	return types.SignalStatistics{CountByType: counts}
}
