package config

import (
	"testing"

	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

func TestResolvePlaceholdersSubstitutesAndRecurses(t *testing.T) {
	t.Setenv("OUTER", "prefix-${INNER}")
	t.Setenv("INNER", "value")
	if got := ResolvePlaceholders("x-${OUTER}"); got != "x-prefix-value" {
		t.Fatalf("got %q", got)
	}
}

func TestResolvePlaceholdersUnsetVarIsEmpty(t *testing.T) {
	if got := ResolvePlaceholders("a-${DEFINITELY_NOT_SET_ANYWHERE}-b"); got != "a--b" {
		t.Fatalf("got %q", got)
	}
}

func TestChannelFromEnvDisabledByDefault(t *testing.T) {
	if _, ok := ChannelFromEnv("TESTCHAN_OFF", "target"); ok {
		t.Fatal("expected channel off without _ENABLED")
	}
}

func TestChannelFromEnvReadsRecognizedVariables(t *testing.T) {
	t.Setenv("TESTCHAN_ENABLED", "true")
	t.Setenv("TESTCHAN_TARGET", "hook-123")
	t.Setenv("TESTCHAN_MIN_CONFIDENCE", "0.6")
	t.Setenv("TESTCHAN_MIN_STRENGTH", "MODERATE")
	t.Setenv("TESTCHAN_RATE_LIMIT_SECONDS", "120")

	cfg, ok := ChannelFromEnv("TESTCHAN", "fallback")
	if !ok {
		t.Fatal("expected channel enabled")
	}
	if cfg.Target != "hook-123" {
		t.Fatalf("target = %q", cfg.Target)
	}
	if cfg.MinConfidence != 0.6 {
		t.Fatalf("min confidence = %v", cfg.MinConfidence)
	}
	if cfg.MinStrength != types.StrengthModerate {
		t.Fatalf("min strength = %v", cfg.MinStrength)
	}
	if cfg.RateLimitSeconds != 120 {
		t.Fatalf("rate limit = %v", cfg.RateLimitSeconds)
	}
	if err := ValidateChannelConfig(cfg); err != nil {
		t.Fatalf("expected env-built channel config valid: %v", err)
	}
}

func TestValidateStrategyConfig(t *testing.T) {
	good := types.StrategyConfig{
		Assets:       []string{"BTC"},
		LookbackDays: 30,
		CorrelationThresholds: types.CorrelationThresholds{
			StrongNegative: -0.6,
			StrongPositive: 0.6,
		},
		PositionSize: 0.02,
	}
	if err := ValidateStrategyConfig(good); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	bad := good
	bad.CorrelationThresholds.StrongNegative = 0.2
	if err := ValidateStrategyConfig(bad); err == nil {
		t.Fatal("expected positive strong_negative rejected")
	}

	bad = good
	bad.PositionSize = 1.5
	if err := ValidateStrategyConfig(bad); err == nil {
		t.Fatal("expected position_size > 1 rejected")
	}
}

func TestValidateAggregatorConfigNormalizesWeights(t *testing.T) {
	cfg := types.AggregatorConfig{
		StrategyWeights:    map[string]float64{"a": 2, "b": 2},
		ConflictResolution: types.ConflictWeightedAverage,
		MaxPositionSize:    0.1,
		MinPositionSize:    0.01,
	}
	if err := ValidateAggregatorConfig(&cfg); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	var sum float64
	for _, w := range cfg.StrategyWeights {
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected normalized weights summing to 1, got %v", sum)
	}
}

func TestValidateAggregatorConfigRejectsUnknownPolicy(t *testing.T) {
	cfg := types.AggregatorConfig{
		StrategyWeights:    map[string]float64{"a": 1},
		ConflictResolution: "majority_rules",
		MaxPositionSize:    0.1,
		MinPositionSize:    0.01,
	}
	if err := ValidateAggregatorConfig(&cfg); err == nil {
		t.Fatal("expected unknown policy rejected")
	}
}

func TestValidateAggregatorConfigRejectsZeroWeightSum(t *testing.T) {
	cfg := types.AggregatorConfig{
		StrategyWeights:    map[string]float64{"a": 0},
		ConflictResolution: types.ConflictWeightedAverage,
		MaxPositionSize:    0.1,
		MinPositionSize:    0.01,
	}
	if err := ValidateAggregatorConfig(&cfg); err == nil {
		t.Fatal("expected zero weight sum rejected")
	}
}
