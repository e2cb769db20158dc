// Package backtester provides point-in-time historical simulation:
// portfolio accounting, trade execution, and return/risk metrics. The
// driver is single-threaded: a day-by-day calendar walk with no
// concurrent mutation of portfolio state, trading event-queue/order-
// manager/risk-manager layering for a simpler deterministic loop.
package backtester

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/internal/errs"
	"github.com/sqryxz/mts-signal-pipeline/internal/market"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

const dateLayout = "2006-01-02"
const minBacktestDate = "2020-01-01"

// SignalGenerator is whatever drives one day's signal generation: a
// single strategy, or a multi-strategy pipeline feeding an aggregator.
type SignalGenerator interface {
	// Generate produces candidate signals from the point-in-time window,
	// already stamped to asOf by the caller.
	Generate(window market.MultiAssetWindow, asOf time.Time) ([]types.TradingSignal, error)
}

// GeneratorFunc adapts a plain function to SignalGenerator.
type GeneratorFunc func(window market.MultiAssetWindow, asOf time.Time) ([]types.TradingSignal, error)

func (f GeneratorFunc) Generate(window market.MultiAssetWindow, asOf time.Time) ([]types.TradingSignal, error) {
	return f(window, asOf)
}

// Engine is the backtest driver (component F).
type Engine struct {
	logger *zap.Logger
	store  *market.Store
}

// NewEngine returns a backtest engine reading market data from store.
func NewEngine(logger *zap.Logger, store *market.Store) *Engine {
	return &Engine{logger: logger, store: store}
}

// ValidateConfig enforces the backtest date/capital bounds: start and
// end dates must be set, start before end, end not in the future, and
// start no earlier than 2020-01-01. Dates are parsed by the caller into
// cfg.StartDate/EndDate already; this only checks bounds. Violations
// are reported as BadConfig.
func ValidateConfig(cfg types.BacktestConfig) error {
	ctx := errs.Context{Component: "backtester"}
	if cfg.StartDate.IsZero() || cfg.EndDate.IsZero() {
		return errs.BadConfig(ctx, "start_date and end_date are required")
	}
	if !cfg.StartDate.Before(cfg.EndDate) {
		return errs.BadConfig(ctx, "start_date must be before end_date")
	}
	if cfg.EndDate.After(time.Now()) {
		return errs.BadConfig(ctx, "end_date must not be in the future")
	}
	minDate, _ := time.Parse(dateLayout, minBacktestDate)
	if cfg.StartDate.Before(minDate) {
		return errs.BadConfig(ctx, "start_date must be >= "+minBacktestDate)
	}
	if cfg.InitialCapital.IsZero() || cfg.InitialCapital.IsNegative() {
		return errs.BadConfig(ctx, "initial_capital must be > 0")
	}
	return nil
}

// Run steps the calendar day by day from cfg.StartDate to cfg.EndDate,
// generating signals on a weekly cadence, executing trades same-day, and
// revaluing the portfolio at each day's close. A panic anywhere in the
// loop is recovered and surfaced as a FAILED result carrying the elapsed
// execution time rather than propagated to the caller.
func (e *Engine) Run(ctx context.Context, cfg types.BacktestConfig, assets []string, gen SignalGenerator) (result types.BacktestResult, err error) {
	started := time.Now()
	result.ID = cfg.ID
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("backtest panic recovered", zap.Any("panic", r), zap.String("id", result.ID))
			result = failedResult(result.ID, started)
			err = nil
		}
	}()

	if verr := ValidateConfig(cfg); verr != nil {
		return types.BacktestResult{}, verr
	}

	cadence := cfg.SignalCadenceDays
	if cadence <= 0 {
		cadence = 7
	}
	lookbackDays := 60 // enough history for the longest strategy lookback window

	pf := newPortfolio(cfg.InitialCapital)
	var dailyReturns []float64
	var equityCurve []decimal.Decimal
	var drawdowns []float64
	var tradeLog []types.TradeLogEntry
	var allSignals []types.TradingSignal

	expectedDays := 0
	vixObservedDays := 0
	assetBarsSeen := make(map[string]int)

	prevEquity := cfg.InitialCapital
	dayIndex := 0

	for day := cfg.StartDate; !day.After(cfg.EndDate); day = day.AddDate(0, 0, 1) {
		expectedDays++

		if dayErr := e.runOneDay(ctx, day, dayIndex, cadence, lookbackDays, cfg.TransactionCost, assets, gen, pf,
			&tradeLog, &allSignals, &vixObservedDays, assetBarsSeen); dayErr != nil {
			e.logger.Warn("backtest day failed, continuing", zap.Error(dayErr), zap.Time("date", day))
		}

		closes := e.closesFor(assets, day)
		equity := pf.value(closes)
		equityCurve = append(equityCurve, equity)
		dd := pf.drawdownFrom(equity)
		drawdowns = append(drawdowns, dd)

		if !prevEquity.IsZero() {
			ret, _ := equity.Sub(prevEquity).Div(prevEquity).Float64()
			dailyReturns = append(dailyReturns, ret)
		}
		prevEquity = equity
		dayIndex++
	}

	result.Performance = computePerformance(dailyReturns, equityCurve, len(dailyReturns))
	result.Trading = computeTradingStatistics(tradeLog)
	result.Signals = computeSignalStatistics(allSignals)
	result.DailyReturns = dailyReturns
	result.EquityCurve = equityCurve
	result.DrawdownSeries = drawdowns
	result.TradeLog = tradeLog
	result.ExecutionTimeSec = time.Since(started).Seconds()

	validator := market.NewQualityValidator(e.logger)
	scores := make(map[string]int, len(assets))
	anyUnusable := false
	for _, asset := range assets {
		report := validator.Validate(asset, e.store.GetOHLCVAsOf(asset, cfg.EndDate))
		scores[asset] = report.Score
		if !report.Usable {
			anyUnusable = true
		}
	}
	result.DataQuality = types.DataQualitySummary{
		ExpectedDays:      expectedDays,
		ObservedVIXDays:   vixObservedDays,
		AssetCompleteness: completenessOf(assetBarsSeen, expectedDays),
		AssetQualityScore: scores,
	}

	if expectedDays == 0 {
		result.Status = types.StatusInsufficientData
		return result, nil
	}
	if anyUnusable {
		result.Status = types.StatusPartialSuccess
		return result, nil
	}
	result.Status = types.StatusSuccess
	return result, nil
}

// runOneDay executes one calendar day's worth of the backtest loop:
// signal generation (weekly cadence), trade execution, and bookkeeping
// of the observed-data counters used by the final quality report.
func (e *Engine) runOneDay(
	ctx context.Context,
	day time.Time,
	dayIndex, cadence, lookbackDays int,
	transactionCost float64,
	assets []string,
	gen SignalGenerator,
	pf *portfolio,
	tradeLog *[]types.TradeLogEntry,
	allSignals *[]types.TradingSignal,
	vixObservedDays *int,
	assetBarsSeen map[string]int,
) error {
	window, err := e.store.GetWindowAsOf(ctx, assets, day, lookbackDays)
	if err != nil {
		return err
	}
	for asset, bars := range window.Assets {
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		if last.Time().Format(dateLayout) == day.Format(dateLayout) {
			assetBarsSeen[asset]++
			if last.VIXValue != nil {
				*vixObservedDays++
			}
		}
	}

	if dayIndex%cadence != 0 {
		return nil
	}

	signals, err := gen.Generate(window, day)
	if err != nil {
		return err
	}
	dayMS := day.UnixMilli()
	for i := range signals {
		signals[i].TimestampMS = dayMS
	}
	*allSignals = append(*allSignals, signals...)

	for _, sig := range signals {
		if sig.TimestampMS != dayMS {
			continue
		}
		entry, executed := e.executeSignal(sig, pf, transactionCost)
		if executed {
			*tradeLog = append(*tradeLog, entry)
		}
	}
	return nil
}

// executeSignal applies one signal to the portfolio: LONG opens or adds
// to a position sized by the signal's position_size fraction of current
// equity; SHORT or CLOSE against an existing long closes it; HOLD, or a
// close with nothing open, is a no-op.
func (e *Engine) executeSignal(sig types.TradingSignal, pf *portfolio, transactionCost float64) (types.TradeLogEntry, bool) {
	costRate := decimal.NewFromFloat(transactionCost)
	switch sig.SignalType {
	case types.SignalLong:
		if sig.Price.IsZero() {
			return types.TradeLogEntry{}, false
		}
		equity := pf.value(map[string]decimal.Decimal{sig.Asset: sig.Price})
		notionalTarget := equity.Mul(decimal.NewFromFloat(sig.PositionSize))
		qty := notionalTarget.Div(sig.Price)
		cost := qty.Mul(sig.Price).Mul(costRate)
		if pf.cash.LessThan(qty.Mul(sig.Price).Add(cost)) {
			return types.TradeLogEntry{}, false
		}
		entry := pf.openOrAdd(sig.Asset, qty, sig.Price, costRate)
		entry.TimestampMS = sig.TimestampMS
		return entry, true
	case types.SignalShort, types.SignalClose:
		if !pf.hasPosition(sig.Asset) {
			return types.TradeLogEntry{}, false
		}
		entry, ok := pf.close(sig.Asset, sig.Price, costRate)
		entry.TimestampMS = sig.TimestampMS
		return entry, ok
	default: // HOLD
		return types.TradeLogEntry{}, false
	}
}

// closesFor returns the closing price of every asset as of day, for
// end-of-day revaluation.
func (e *Engine) closesFor(assets []string, day time.Time) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		bars := e.store.GetOHLCVAsOf(asset, day)
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		if last.Time().Format(dateLayout) == day.Format(dateLayout) {
			out[asset] = last.Close
		}
	}
	return out
}

func completenessOf(seen map[string]int, expectedDays int) map[string]float64 {
	out := make(map[string]float64, len(seen))
	if expectedDays == 0 {
		return out
	}
	for asset, count := range seen {
		out[asset] = float64(count) / float64(expectedDays)
	}
	return out
}

func failedResult(id string, started time.Time) types.BacktestResult {
	return types.BacktestResult{
		ID:               id,
		Status:           types.StatusFailed,
		ExecutionTimeSec: time.Since(started).Seconds(),
	}
}
