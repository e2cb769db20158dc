// Package types provides configuration record types for the signal
// pipeline. These are plain data; validation lives in internal/config.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// CorrelationThresholds bounds a strategy's correlation classification.
type CorrelationThresholds struct {
	StrongNegative float64 `json:"strong_negative"`
	StrongPositive float64 `json:"strong_positive"`
}

// StrategyConfig is the shared configuration shape every concrete
// strategy binds a subset of (extra fields live in each strategy's own
// Parameters map, reflected back via Strategy.Parameters()).
type StrategyConfig struct {
	Assets                []string              `json:"assets"`
	LookbackDays          int                   `json:"lookback_days"`
	CorrelationThresholds CorrelationThresholds `json:"correlation_thresholds"`
	PositionSize          float64               `json:"position_size"`
	Parameters            map[string]any        `json:"parameters,omitempty"`
}

// ConflictResolution names one of the aggregator's five conflict
// resolution policies.
type ConflictResolution string

const (
	ConflictWeightedAverage     ConflictResolution = "weighted_average"
	ConflictStrongestWins       ConflictResolution = "strongest_wins"
	ConflictConservative        ConflictResolution = "conservative"
	ConflictConsensusThreshold  ConflictResolution = "consensus_threshold"
	ConflictRiskWeighted        ConflictResolution = "risk_weighted"
)

// AggregatorConfig configures the signal aggregator.
type AggregatorConfig struct {
	StrategyWeights         map[string]float64 `json:"strategy_weights"`
	MinConfidenceThreshold  float64            `json:"min_confidence_threshold"`
	ConflictResolution      ConflictResolution `json:"conflict_resolution"`
	MaxPositionSize         float64            `json:"max_position_size"`
	MinPositionSize         float64            `json:"min_position_size"`
	RequireMajorityAgreement bool              `json:"require_majority_agreement"`
	ConsensusThreshold      float64            `json:"consensus_threshold"`
}

// DispatcherChannelConfig configures one outbound alert channel.
type DispatcherChannelConfig struct {
	Target              string         `json:"target"`
	MinConfidence       float64        `json:"min_confidence"`
	MinStrength         SignalStrength `json:"min_strength"`
	EnabledAssets       []string       `json:"enabled_assets"`
	EnabledSignalTypes  []SignalType   `json:"enabled_signal_types"`
	RateLimitSeconds    int            `json:"rate_limit_seconds"`
}

// BacktestConfig configures one backtest run.
type BacktestConfig struct {
	ID                string          `json:"id"`
	Assets            []string        `json:"assets"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           time.Time       `json:"end_date"`
	InitialCapital    decimal.Decimal `json:"initial_capital"`
	TransactionCost   float64         `json:"transaction_cost"`
	SignalCadenceDays int             `json:"signal_cadence_days"`
}

// DefaultBacktestConfig returns the default values for the fields a
// caller is permitted to leave zero.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:    decimal.NewFromInt(100000),
		TransactionCost:   0.001,
		SignalCadenceDays: 7,
	}
}
