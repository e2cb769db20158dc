// Package config validates the pipeline's configuration records and
// resolves ${VAR} environment placeholders within them. Configuration
// records are accepted already parsed (file-loading mechanics are out
// of scope); this package only binds and validates values.
package config

import (
	"os"
	"regexp"
	"strconv"

	"github.com/sqryxz/mts-signal-pipeline/internal/errs"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolvePlaceholders recursively substitutes ${VAR} occurrences in s
// with the corresponding environment variable value. A placeholder whose
// variable is unset resolves to the empty string: an absent variable
// means the feature it gates is off.
func ResolvePlaceholders(s string) string {
	for placeholderRe.MatchString(s) {
		resolved := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			name := placeholderRe.FindStringSubmatch(m)[1]
			return os.Getenv(name)
		})
		if resolved == s {
			break
		}
		s = resolved
	}
	return s
}

// ChannelFromEnv builds a DispatcherChannelConfig from the recognized
// <CHANNEL>_* environment variables (_ENABLED, _TARGET, _MIN_CONFIDENCE,
// _MIN_STRENGTH, _RATE_LIMIT_SECONDS). It returns ok=false when
// <CHANNEL>_ENABLED is unset or falsy, meaning the channel is off.
func ChannelFromEnv(channel, defaultTarget string) (cfg types.DispatcherChannelConfig, ok bool) {
	enabled := os.Getenv(channel + "_ENABLED")
	if enabled != "true" && enabled != "1" {
		return cfg, false
	}
	cfg.Target = ResolvePlaceholders(defaultTarget)
	if v := os.Getenv(channel + "_TARGET"); v != "" {
		cfg.Target = ResolvePlaceholders(v)
	}
	cfg.MinConfidence = 0.1
	cfg.MinStrength = types.StrengthWeak
	cfg.RateLimitSeconds = 60
	if v := os.Getenv(channel + "_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.MinConfidence = f
		}
	}
	if v := os.Getenv(channel + "_MIN_STRENGTH"); v != "" {
		cfg.MinStrength = types.SignalStrength(v)
	}
	if v := os.Getenv(channel + "_RATE_LIMIT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitSeconds = n
		}
	}
	return cfg, true
}

// ValidateStrategyConfig checks a strategy record's invariants.
func ValidateStrategyConfig(c types.StrategyConfig) error {
	ctx := errs.Context{Component: "strategy_config"}
	if len(c.Assets) == 0 {
		return errs.BadConfig(ctx, "assets must be non-empty")
	}
	if c.LookbackDays <= 0 {
		return errs.BadConfig(ctx, "lookback_days must be > 0")
	}
	if c.CorrelationThresholds.StrongNegative >= 0 {
		return errs.BadConfig(ctx, "strong_negative threshold must be < 0")
	}
	if c.CorrelationThresholds.StrongPositive <= 0 {
		return errs.BadConfig(ctx, "strong_positive threshold must be > 0")
	}
	if c.PositionSize <= 0 || c.PositionSize > 1 {
		return errs.BadConfig(ctx, "position_size must be in (0,1]")
	}
	return nil
}

// ValidateAggregatorConfig checks an aggregator record's invariants and
// normalizes strategy weights to sum to 1.
func ValidateAggregatorConfig(c *types.AggregatorConfig) error {
	ctx := errs.Context{Component: "aggregator_config"}
	var sum float64
	for name, w := range c.StrategyWeights {
		if w < 0 {
			return errs.BadConfig(ctx, "strategy weight for "+name+" must be >= 0")
		}
		sum += w
	}
	if sum <= 0 {
		return errs.BadConfig(ctx, "strategy_weights must sum to a positive value")
	}
	if sum != 1 {
		normalized := make(map[string]float64, len(c.StrategyWeights))
		for name, w := range c.StrategyWeights {
			normalized[name] = w / sum
		}
		c.StrategyWeights = normalized
	}
	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 1 {
		return errs.BadConfig(ctx, "min_confidence_threshold must be in [0,1]")
	}
	switch c.ConflictResolution {
	case types.ConflictWeightedAverage, types.ConflictStrongestWins, types.ConflictConservative,
		types.ConflictConsensusThreshold, types.ConflictRiskWeighted:
	default:
		return errs.BadConfig(ctx, "unknown conflict_resolution policy: "+string(c.ConflictResolution))
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		return errs.BadConfig(ctx, "max_position_size must be in (0,1]")
	}
	if c.MinPositionSize <= 0 || c.MinPositionSize > 1 {
		return errs.BadConfig(ctx, "min_position_size must be in (0,1]")
	}
	if c.MinPositionSize > c.MaxPositionSize {
		return errs.BadConfig(ctx, "min_position_size must be <= max_position_size")
	}
	if c.ConflictResolution == types.ConflictConsensusThreshold {
		if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
			return errs.BadConfig(ctx, "consensus_threshold must be in (0,1]")
		}
	}
	return nil
}

// ValidateChannelConfig checks a dispatcher channel record's invariants.
func ValidateChannelConfig(c types.DispatcherChannelConfig) error {
	ctx := errs.Context{Component: "dispatcher_channel_config"}
	if c.Target == "" {
		return errs.BadConfig(ctx, "target must be set")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errs.BadConfig(ctx, "min_confidence must be in [0,1]")
	}
	switch c.MinStrength {
	case types.StrengthWeak, types.StrengthModerate, types.StrengthStrong:
	default:
		return errs.BadConfig(ctx, "min_strength must be WEAK|MODERATE|STRONG")
	}
	if c.RateLimitSeconds <= 0 {
		return errs.BadConfig(ctx, "rate_limit must be > 0 seconds")
	}
	return nil
}
