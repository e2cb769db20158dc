// Package market provides read-only time-series access to crypto OHLCV
// bars and macro indicators, joined on calendar day. Raw data ingestion
// (exchanges, data feeds) is an external collaborator; this store is
// loaded by that collaborator (or by test fixtures) and only answers
// queries.
package market

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sqryxz/mts-signal-pipeline/internal/analytics"
	"github.com/sqryxz/mts-signal-pipeline/internal/errs"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// CombinedBar is one crypto OHLCV row left-joined with that day's macro
// indicators. Missing macro values surface as nil.
type CombinedBar struct {
	types.MarketBar
	VIXValue        *float64
	FedFundsRate    *float64
	Treasury10YRate *float64
	DollarIndex     *float64
}

// Store is the market-data store (component A). It is safe for
// concurrent readers; LoadBars takes an exclusive lock on the in-memory
// bars, while InsertMacroIndicator writes straight to the database
// without taking the store's lock.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	db     *sql.DB

	bars map[string][]types.MarketBar // asset -> ascending by timestamp
}

// NewStore opens (creating if absent) the sqlite-backed analytics store
// at dbPath and prepares the macro_indicators / macro_analytics_results
// tables per the persistent-state schema.
func NewStore(logger *zap.Logger, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.StoreError(errs.Context{Component: "market.store"}, fmt.Sprintf("open sqlite: %v", err))
	}
	s := &Store{logger: logger, db: db, bars: make(map[string][]types.MarketBar)}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	ctx := errs.Context{Component: "market.store.migrate"}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS macro_indicators (
			indicator TEXT NOT NULL,
			date TEXT NOT NULL,
			value REAL NOT NULL,
			flags TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(indicator, date)
		)`,
		`CREATE TABLE IF NOT EXISTS macro_analytics_results (
			indicator TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			current_value REAL,
			rate_of_change REAL,
			z_score REAL,
			percentile_rank REAL,
			mean REAL,
			std_dev REAL,
			lookback_period INTEGER,
			created_at TEXT NOT NULL,
			UNIQUE(indicator, timeframe, timestamp)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errs.StoreError(ctx, fmt.Sprintf("migrate: %v", err))
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// LoadBars installs (or replaces) an asset's OHLCV bars, sanitized
// (sorted ascending, duplicates collapsed, invalid rows dropped). Used
// by the ingestion collaborator / fixtures.
func (s *Store) LoadBars(asset string, bars []types.MarketBar) {
	sanitized := SanitizeBars(bars)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[asset] = sanitized
}

func checkTimeout(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.StoreError(errs.Context{Component: "market.store"}, "request timeout: "+ctx.Err().Error())
	default:
		return nil
	}
}

// GetOHLCV returns the most recent `days` bars for asset, ascending by
// time. Missing data returns an empty (not nil-error) slice.
func (s *Store) GetOHLCV(ctx context.Context, asset string, days int) ([]types.MarketBar, error) {
	if err := checkTimeout(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.bars[asset]
	if len(all) == 0 {
		return []types.MarketBar{}, nil
	}
	if days <= 0 || days >= len(all) {
		out := make([]types.MarketBar, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]types.MarketBar, days)
	copy(out, all[len(all)-days:])
	return out, nil
}

// GetOHLCVAsOf returns bars for asset with timestamp <= asOf, the
// point-in-time view the backtest engine steps through day by day.
func (s *Store) GetOHLCVAsOf(asset string, asOf time.Time) []types.MarketBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.bars[asset]
	cutoff := asOf.UnixMilli()
	out := make([]types.MarketBar, 0, len(all))
	for _, b := range all {
		if b.TimestampMS <= cutoff {
			out = append(out, b)
		}
	}
	return out
}

// GetCombined returns the most recent `days` bars for asset, left-joined
// on calendar day with macro indicators VIX/DFF/DGS10/DTWEXBGS.
func (s *Store) GetCombined(ctx context.Context, asset string, days int) ([]CombinedBar, error) {
	bars, err := s.GetOHLCV(ctx, asset, days)
	if err != nil {
		return nil, err
	}
	return s.combineWithMacro(ctx, bars)
}

// GetCombinedAsOf returns the point-in-time view of GetCombined: the most
// recent `days` bars with timestamp <= asOf, left-joined on calendar day
// with macro indicators. Used by the backtest engine to step the market
// window day by day without looking ahead.
func (s *Store) GetCombinedAsOf(ctx context.Context, asset string, asOf time.Time, days int) ([]CombinedBar, error) {
	all := s.GetOHLCVAsOf(asset, asOf)
	if days > 0 && len(all) > days {
		all = all[len(all)-days:]
	}
	return s.combineWithMacro(ctx, all)
}

func (s *Store) combineWithMacro(ctx context.Context, bars []types.MarketBar) ([]CombinedBar, error) {
	if len(bars) == 0 {
		return []CombinedBar{}, nil
	}
	start := bars[0].Time()
	end := bars[len(bars)-1].Time()
	vix, _ := s.GetIndicator(ctx, "VIX", start.Format(dateLayout), end.Format(dateLayout), false)
	dff, _ := s.GetIndicator(ctx, "DFF", start.Format(dateLayout), end.Format(dateLayout), false)
	dgs10, _ := s.GetIndicator(ctx, "DGS10", start.Format(dateLayout), end.Format(dateLayout), false)
	dtwex, _ := s.GetIndicator(ctx, "DTWEXBGS", start.Format(dateLayout), end.Format(dateLayout), false)

	byDay := func(points []types.MacroIndicatorPoint) map[string]float64 {
		m := make(map[string]float64, len(points))
		for _, p := range points {
			m[p.Date.Format(dateLayout)] = p.Value
		}
		return m
	}
	vixByDay, dffByDay, dgs10ByDay, dtwexByDay := byDay(vix), byDay(dff), byDay(dgs10), byDay(dtwex)

	out := make([]CombinedBar, len(bars))
	for i, b := range bars {
		day := b.Time().Format(dateLayout)
		cb := CombinedBar{MarketBar: b}
		if v, ok := vixByDay[day]; ok {
			cb.VIXValue = &v
		}
		if v, ok := dffByDay[day]; ok {
			cb.FedFundsRate = &v
		}
		if v, ok := dgs10ByDay[day]; ok {
			cb.Treasury10YRate = &v
		}
		if v, ok := dtwexByDay[day]; ok {
			cb.DollarIndex = &v
		}
		out[i] = cb
	}
	return out, nil
}

// InsertMacroIndicator upserts one macro observation.
func (s *Store) InsertMacroIndicator(ctx context.Context, p types.MacroIndicatorPoint) error {
	if err := checkTimeout(ctx); err != nil {
		return err
	}
	flags := ""
	if p.IsInterpolated {
		flags += "interpolated"
	}
	if p.IsForwardFilled {
		if flags != "" {
			flags += ","
		}
		flags += "forward_filled"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO macro_indicators (indicator, date, value, flags, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(indicator, date) DO UPDATE SET value=excluded.value, flags=excluded.flags`,
		p.Indicator, p.Date.Format(dateLayout), p.Value, flags, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errs.StoreError(errs.Context{Component: "market.store", Asset: p.Indicator}, fmt.Sprintf("insert macro indicator: %v", err))
	}
	return nil
}

// InsertMacroAnalyticsResult persists one computed MacroIndicatorMetrics row.
func (s *Store) InsertMacroAnalyticsResult(ctx context.Context, m types.MacroIndicatorMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO macro_analytics_results
			(indicator, timeframe, timestamp, current_value, rate_of_change, z_score, percentile_rank, mean, std_dev, lookback_period, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(indicator, timeframe, timestamp) DO UPDATE SET
			current_value=excluded.current_value, rate_of_change=excluded.rate_of_change,
			z_score=excluded.z_score, percentile_rank=excluded.percentile_rank,
			mean=excluded.mean, std_dev=excluded.std_dev, lookback_period=excluded.lookback_period`,
		m.Indicator, m.Timeframe, m.TimestampMS, m.CurrentValue, m.RateOfChange, m.ZScore,
		m.PercentileRank, m.Mean, m.StdDev, m.LookbackPeriod, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errs.StoreError(errs.Context{Component: "market.store", Asset: m.Indicator}, fmt.Sprintf("insert analytics result: %v", err))
	}
	return nil
}

// ComputeIndicatorMetrics scores an indicator's latest value against its
// trailing window at the given timeframe and persists the resulting
// analytics row. Insufficient data is a value (ok=false), not an error.
func (s *Store) ComputeIndicatorMetrics(ctx context.Context, indicator string, tf analytics.Timeframe, startDate, endDate string, lookback int) (types.MacroIndicatorMetrics, bool, error) {
	points, err := s.GetIndicator(ctx, indicator, startDate, endDate, true)
	if err != nil {
		return types.MacroIndicatorMetrics{}, false, err
	}
	series := make([]analytics.Point, len(points))
	for i, p := range points {
		series[i] = analytics.Point{Time: p.Date, Value: p.Value}
	}
	m, ok := analytics.IndicatorMetrics(indicator, tf, series, lookback)
	if !ok {
		return types.MacroIndicatorMetrics{}, false, nil
	}
	if err := s.InsertMacroAnalyticsResult(ctx, m); err != nil {
		return m, true, err
	}
	return m, true, nil
}

// GetIndicator returns (date, value) points for indicator between
// startDate and endDate (inclusive, "YYYY-MM-DD"). When interpolate is
// true, internal gaps are linearly filled (up to 10 consecutive missing
// days) then forward/back-filled. Invalid date strings fail BadDate;
// missing data returns an empty slice, never an error.
func (s *Store) GetIndicator(ctx context.Context, indicator, startDate, endDate string, interpolate bool) ([]types.MacroIndicatorPoint, error) {
	if err := checkTimeout(ctx); err != nil {
		return nil, err
	}
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, errs.BadDate(errs.Context{Component: "market.store", Asset: indicator}, "invalid start_date: "+startDate)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return nil, errs.BadDate(errs.Context{Component: "market.store", Asset: indicator}, "invalid end_date: "+endDate)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, value FROM macro_indicators
		WHERE indicator = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, indicator, startDate, endDate)
	if err != nil {
		return nil, errs.StoreError(errs.Context{Component: "market.store", Asset: indicator}, fmt.Sprintf("query: %v", err))
	}
	defer rows.Close()

	observed := make(map[string]float64)
	for rows.Next() {
		var day string
		var value float64
		if err := rows.Scan(&day, &value); err != nil {
			return nil, errs.StoreError(errs.Context{Component: "market.store"}, fmt.Sprintf("scan: %v", err))
		}
		observed[day] = value
	}
	if len(observed) == 0 {
		return []types.MacroIndicatorPoint{}, nil
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	values := make([]float64, len(days))
	for i, d := range days {
		if v, ok := observed[d.Format(dateLayout)]; ok {
			values[i] = v
		} else {
			values[i] = math.NaN()
		}
	}

	if !interpolate {
		out := make([]types.MacroIndicatorPoint, 0, len(days))
		for _, d := range days {
			if v, ok := observed[d.Format(dateLayout)]; ok {
				out = append(out, types.MacroIndicatorPoint{Indicator: indicator, Date: d, Value: v})
			}
		}
		return out, nil
	}

	filled, interpolated, forwardFilled := analytics.Interpolate(values, 10)
	out := make([]types.MacroIndicatorPoint, len(days))
	for i, d := range days {
		out[i] = types.MacroIndicatorPoint{
			Indicator:       indicator,
			Date:            d,
			Value:           filled[i],
			IsInterpolated:  interpolated[i],
			IsForwardFilled: forwardFilled[i],
		}
	}
	return out, nil
}

// GetMultiIndicator returns a date-indexed table, one column per
// indicator, ordered ascending by date.
func (s *Store) GetMultiIndicator(ctx context.Context, indicators []string, startDate, endDate string, interpolate bool) ([]map[string]any, error) {
	columns := make(map[string][]types.MacroIndicatorPoint, len(indicators))
	for _, ind := range indicators {
		pts, err := s.GetIndicator(ctx, ind, startDate, endDate, interpolate)
		if err != nil {
			return nil, err
		}
		columns[ind] = pts
	}
	byDate := make(map[string]map[string]any)
	var order []string
	for ind, pts := range columns {
		for _, p := range pts {
			day := p.Date.Format(dateLayout)
			row, ok := byDate[day]
			if !ok {
				row = map[string]any{"date": day}
				byDate[day] = row
				order = append(order, day)
			}
			row[ind] = p.Value
		}
	}
	sort.Strings(order)
	out := make([]map[string]any, len(order))
	for i, day := range order {
		out[i] = byDate[day]
	}
	return out, nil
}
