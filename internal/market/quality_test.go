package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

func qbar(day time.Time, close float64, volume int64) types.MarketBar {
	c := decimal.NewFromFloat(close)
	return types.MarketBar{
		TimestampMS: day.UnixMilli(),
		Open:        c,
		High:        c.Add(decimal.NewFromInt(1)),
		Low:         c.Sub(decimal.NewFromInt(1)),
		Close:       c,
		Volume:      decimal.NewFromInt(volume),
	}
}

func TestValidateCleanSeriesIsUsable(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.MarketBar, 30)
	for i := range bars {
		bars[i] = qbar(base.AddDate(0, 0, i), 100+float64(i), 1000)
	}
	report := v.Validate("BTC", bars)
	if !report.Usable {
		t.Fatalf("expected clean series to be usable, score=%d issues=%v", report.Score, report.Issues)
	}
	if report.Score != 100 {
		t.Fatalf("expected score 100, got %d", report.Score)
	}
}

func TestValidateFlagsCalendarGap(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []types.MarketBar{
		qbar(base, 100, 1000),
		qbar(base.AddDate(0, 0, 1), 101, 1000),
		qbar(base.AddDate(0, 0, 5), 102, 1000), // 3 days missing
	}
	report := v.Validate("BTC", bars)
	found := false
	for _, is := range report.Issues {
		if is.Kind == "missing_days" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a missing_days issue, got %v", report.Issues)
	}
}

func TestValidateEmptySeriesIsCritical(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	report := v.Validate("BTC", nil)
	if report.Usable || report.Score != 0 {
		t.Fatalf("expected unusable zero-score report, got %+v", report)
	}
}

func TestValidateFlagsVolumeSpike(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.MarketBar, 20)
	for i := range bars {
		bars[i] = qbar(base.AddDate(0, 0, i), 100, 1000)
	}
	bars[10].Volume = decimal.NewFromInt(1000 * 500)
	report := v.Validate("BTC", bars)
	found := false
	for _, is := range report.Issues {
		if is.Kind == "volume_spike" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a volume_spike issue, got %v", report.Issues)
	}
}

func TestSanitizeBarsSortsDedupesAndDropsInvalid(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	good := qbar(base, 100, 1000)
	later := qbar(base.AddDate(0, 0, 1), 110, 1000)
	duplicate := qbar(base, 105, 1000)
	broken := types.MarketBar{
		TimestampMS: base.AddDate(0, 0, 2).UnixMilli(),
		Open:        decimal.NewFromInt(100),
		High:        decimal.NewFromInt(90), // high below open
		Low:         decimal.NewFromInt(95),
		Close:       decimal.NewFromInt(100),
		Volume:      decimal.NewFromInt(10),
	}

	out := SanitizeBars([]types.MarketBar{later, good, duplicate, broken})
	if len(out) != 2 {
		t.Fatalf("expected 2 bars after sanitize, got %d", len(out))
	}
	if !out[0].Close.Equal(duplicate.Close) {
		t.Fatalf("expected duplicate timestamp to keep the latest value, got %s", out[0].Close)
	}
	if out[0].TimestampMS > out[1].TimestampMS {
		t.Fatal("expected ascending order")
	}
}
