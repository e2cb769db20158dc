// Package types provides shared type definitions for the signal pipeline.
package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// SignalType is the action a TradingSignal recommends.
type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalShort SignalType = "SHORT"
	SignalHold  SignalType = "HOLD"
	SignalClose SignalType = "CLOSE"
)

// Direction is derivable from SignalType for LONG/SHORT signals.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// DirectionFor returns the direction implied by a signal type, when one
// exists (LONG/SHORT only).
func DirectionFor(t SignalType) (Direction, bool) {
	switch t {
	case SignalLong:
		return DirectionBuy, true
	case SignalShort:
		return DirectionSell, true
	default:
		return "", false
	}
}

// SignalStrength is an ordered classification: WEAK < MODERATE < STRONG.
type SignalStrength string

const (
	StrengthWeak     SignalStrength = "WEAK"
	StrengthModerate SignalStrength = "MODERATE"
	StrengthStrong   SignalStrength = "STRONG"
)

var strengthRank = map[SignalStrength]int{
	StrengthWeak:     0,
	StrengthModerate: 1,
	StrengthStrong:   2,
}

// Less reports whether s ranks below other (WEAK<MODERATE<STRONG).
func (s SignalStrength) Less(other SignalStrength) bool {
	return strengthRank[s] < strengthRank[other]
}

// BacktestStatus classifies the outcome of one simulation run.
type BacktestStatus string

const (
	StatusSuccess          BacktestStatus = "SUCCESS"
	StatusPartialSuccess   BacktestStatus = "PARTIAL_SUCCESS"
	StatusFailed           BacktestStatus = "FAILED"
	StatusInsufficientData BacktestStatus = "INSUFFICIENT_DATA"
)

// MarketBar is one OHLCV sample for an asset.
//
// Invariant: Low <= Open, Close <= High; Volume >= 0. Identity is
// (asset, TimestampMS), enforced by the store, not by this type.
type MarketBar struct {
	TimestampMS int64           `json:"timestamp"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
}

// Time returns the bar's timestamp as a UTC time.Time.
func (b MarketBar) Time() time.Time {
	return time.UnixMilli(b.TimestampMS).UTC()
}

// Valid reports whether the bar satisfies the OHLC/volume invariants.
func (b MarketBar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return false
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return false
	}
	return true
}

// MacroIndicatorPoint is one macro observation, e.g. VIX or DGS10 on a
// calendar day. Identity is (Indicator, Date).
type MacroIndicatorPoint struct {
	Indicator        string    `json:"indicator"`
	Date             time.Time `json:"date"`
	Value            float64   `json:"value"`
	IsInterpolated   bool      `json:"is_interpolated"`
	IsForwardFilled  bool      `json:"is_forward_filled"`
}

// TradingSignal is the unit of strategy output and aggregator input/output.
type TradingSignal struct {
	SignalID       string          `json:"signal_id"`
	Asset          string          `json:"asset"`
	SignalType     SignalType      `json:"signal_type"`
	Direction      Direction       `json:"direction"`
	TimestampMS    int64           `json:"timestamp"`
	Price          decimal.Decimal `json:"price"`
	StrategyName   string          `json:"strategy_name"`
	SignalStrength SignalStrength  `json:"signal_strength"`
	Confidence     float64         `json:"confidence"`
	PositionSize   float64         `json:"position_size"`

	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	MaxRisk    *float64         `json:"max_risk,omitempty"`

	AnalysisData     map[string]any `json:"analysis_data,omitempty"`
	CorrelationValue *float64       `json:"correlation_value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewTradingSignal fills in derived and default fields (SignalID,
// Direction, CreatedAt) the way construction is required to by the data
// model's invariants, and reports the first invariant violation found.
func NewTradingSignal(s TradingSignal) (TradingSignal, error) {
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return s, fmt.Errorf("trading signal: confidence %f out of [0,1]", s.Confidence)
	}
	if math.IsNaN(s.PositionSize) || s.PositionSize < 0 || s.PositionSize > 1 {
		return s, fmt.Errorf("trading signal: position_size %f out of [0,1]", s.PositionSize)
	}
	if !s.Price.IsPositive() {
		return s, fmt.Errorf("trading signal: price %s must be > 0", s.Price.String())
	}
	if s.MaxRisk != nil && (*s.MaxRisk <= 0 || *s.MaxRisk > 1) {
		return s, fmt.Errorf("trading signal: max_risk %f out of (0,1]", *s.MaxRisk)
	}
	if s.Direction == "" {
		if d, ok := DirectionFor(s.SignalType); ok {
			s.Direction = d
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.UnixMilli(s.TimestampMS).UTC()
	}
	if s.SignalID == "" {
		s.SignalID = DeriveSignalID(s.StrategyName, s.Asset, s.TimestampMS)
	}
	return s, nil
}

// DeriveSignalID produces a stable derived id: the hex encoding of the
// first 8 bytes of the SHA-1 of "strategy|asset|timestamp".
func DeriveSignalID(strategy, asset string, timestampMS int64) string {
	raw := fmt.Sprintf("%s|%s|%d", strategy, asset, timestampMS)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// MacroIndicatorMetrics is one analytics computation over an indicator at
// a given timeframe and timestamp. Identity is (Indicator, Timeframe,
// TimestampMS).
type MacroIndicatorMetrics struct {
	Indicator      string  `json:"indicator"`
	Timeframe      string  `json:"timeframe"`
	TimestampMS    int64   `json:"timestamp"`
	CurrentValue   float64 `json:"current_value"`
	RateOfChange   float64 `json:"rate_of_change"`
	ZScore         float64 `json:"z_score"`
	PercentileRank float64 `json:"percentile_rank"`
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
	LookbackPeriod int     `json:"lookback_period"`
}

// DiscordAlertRecord is a durable trace of one outbound alert attempt.
type DiscordAlertRecord struct {
	ID                int64            `json:"id"`
	AlertType         string           `json:"alert_type"`
	Symbol            string           `json:"symbol"`
	SignalType        SignalType       `json:"signal_type"`
	Price             decimal.Decimal  `json:"price"`
	Confidence        float64          `json:"confidence"`
	Strength          SignalStrength   `json:"strength"`
	PositionSize      float64          `json:"position_size"`
	StopLoss          *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit        *decimal.Decimal `json:"take_profit,omitempty"`
	StrategyName      string           `json:"strategy_name"`
	WebhookTarget     string           `json:"webhook_target"`
	ExternalMessageID *string          `json:"external_message_id,omitempty"`
	SentAt            time.Time        `json:"sent_at"`
	Success           bool             `json:"success"`
	ErrorMessage      *string          `json:"error_message,omitempty"`
	AlertData         string           `json:"alert_data"`
}

// PerformanceMetrics groups the return/risk metrics of a BacktestResult.
type PerformanceMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	Sharpe           float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Calmar           float64 `json:"calmar_ratio"`
	VaR95            float64 `json:"var_95"`
}

// TradingStatistics groups trade-log derived stats of a BacktestResult.
type TradingStatistics struct {
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgWinReturn   float64 `json:"avg_win_return"`
	AvgLossReturn  float64 `json:"avg_loss_return"`
}

// SignalStatistics groups per-type signal counts of a BacktestResult.
type SignalStatistics struct {
	CountByType map[SignalType]int `json:"count_by_type"`
}

// TradeLogEntry is one executed trade recorded during a backtest.
type TradeLogEntry struct {
	TimestampMS int64           `json:"timestamp"`
	Asset       string          `json:"asset"`
	SignalType  SignalType      `json:"signal_type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	PnL         decimal.Decimal `json:"pnl"`
}

// DataQualitySummary is the backtest's expected-vs-observed data report.
type DataQualitySummary struct {
	ExpectedDays      int                `json:"expected_days"`
	ObservedVIXDays   int                `json:"observed_vix_days"`
	AssetCompleteness map[string]float64 `json:"asset_completeness"`
	AssetQualityScore map[string]int     `json:"asset_quality_score,omitempty"`
}

// BacktestResult is one simulation run's complete output.
type BacktestResult struct {
	ID               string              `json:"id"`
	Status           BacktestStatus      `json:"status"`
	Performance      PerformanceMetrics  `json:"performance_metrics"`
	Trading          TradingStatistics   `json:"trading_statistics"`
	Signals          SignalStatistics    `json:"signal_statistics"`
	DailyReturns     []float64           `json:"daily_returns"`
	EquityCurve      []decimal.Decimal   `json:"equity_curve"`
	DrawdownSeries   []float64           `json:"drawdown_series"`
	TradeLog         []TradeLogEntry     `json:"trade_log"`
	ExecutionTimeSec float64             `json:"execution_time_seconds"`
	DataQuality      DataQualitySummary  `json:"data_quality"`
	ErrorMessage     string              `json:"error_message,omitempty"`
}
