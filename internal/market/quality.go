package market

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// QualityValidator checks an asset's historical bars for the defects
// that poison downstream analytics: missing calendar days, extreme
// price moves, volume anomalies, broken OHLC rows, duplicates, and
// out-of-order timestamps.
type QualityValidator struct {
	logger *zap.Logger

	MaxGapMove        float64 // largest close-to-close move treated as plausible
	MaxVolumeMultiple float64 // volume above this multiple of the other bars' average is a spike
	MinScore          int     // usability floor for the 0-100 score
}

// Issue is one detected data defect.
type Issue struct {
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"` // "critical" or "warning"
	Date     time.Time `json:"date"`
	Detail   string    `json:"detail"`
}

// QualityReport summarizes one asset's data health.
type QualityReport struct {
	Asset     string    `json:"asset"`
	TotalBars int       `json:"total_bars"`
	Issues    []Issue   `json:"issues"`
	Score     int       `json:"score"` // 0-100
	Usable    bool      `json:"usable"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// NewQualityValidator returns a validator tuned for 24/7 crypto data:
// every calendar day is an expected session, and intraday moves run
// hotter than equity circuit breakers allow.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:            logger,
		MaxGapMove:        0.30,
		MaxVolumeMultiple: 20.0,
		MinScore:          60,
	}
}

// Validate runs every check over bars and scores the result.
func (v *QualityValidator) Validate(asset string, bars []types.MarketBar) QualityReport {
	report := QualityReport{Asset: asset, TotalBars: len(bars)}
	if len(bars) == 0 {
		report.Issues = append(report.Issues, Issue{Kind: "no_data", Severity: "critical", Detail: "no bars provided"})
		return report
	}
	report.StartDate = bars[0].Time()
	report.EndDate = bars[len(bars)-1].Time()

	report.Issues = append(report.Issues, v.checkOrderAndDuplicates(bars)...)
	report.Issues = append(report.Issues, v.checkCalendarGaps(bars)...)
	report.Issues = append(report.Issues, v.checkPrices(bars)...)
	report.Issues = append(report.Issues, v.checkVolume(bars)...)

	report.Score = scoreIssues(len(bars), report.Issues)
	report.Usable = report.Score >= v.MinScore && !hasCritical(report.Issues)

	if v.logger != nil && !report.Usable {
		v.logger.Warn("market data failed quality checks",
			zap.String("asset", asset),
			zap.Int("score", report.Score),
			zap.Int("issues", len(report.Issues)))
	}
	return report
}

func (v *QualityValidator) checkOrderAndDuplicates(bars []types.MarketBar) []Issue {
	var issues []Issue
	seen := make(map[int64]bool, len(bars))
	for i, b := range bars {
		if seen[b.TimestampMS] {
			issues = append(issues, Issue{
				Kind: "duplicate_timestamp", Severity: "warning", Date: b.Time(),
				Detail: "bar repeats an earlier timestamp",
			})
		}
		seen[b.TimestampMS] = true
		if i > 0 && b.TimestampMS < bars[i-1].TimestampMS {
			issues = append(issues, Issue{
				Kind: "out_of_order", Severity: "critical", Date: b.Time(),
				Detail: "timestamps not ascending",
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkCalendarGaps(bars []types.MarketBar) []Issue {
	var issues []Issue
	for i := 1; i < len(bars); i++ {
		gapDays := int(bars[i].Time().Sub(bars[i-1].Time()).Hours() / 24)
		if gapDays > 1 {
			severity := "warning"
			if gapDays > 7 {
				severity = "critical"
			}
			issues = append(issues, Issue{
				Kind: "missing_days", Severity: severity, Date: bars[i].Time(),
				Detail: fmt.Sprintf("%d calendar days missing before this bar", gapDays-1),
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkPrices(bars []types.MarketBar) []Issue {
	var issues []Issue
	for i, b := range bars {
		if !b.Close.IsPositive() || !b.Open.IsPositive() {
			issues = append(issues, Issue{
				Kind: "bad_price", Severity: "critical", Date: b.Time(),
				Detail: "non-positive open/close",
			})
			continue
		}
		if !b.Valid() {
			issues = append(issues, Issue{
				Kind: "ohlc_inconsistent", Severity: "critical", Date: b.Time(),
				Detail: "low/high bounds violated",
			})
		}
		if i > 0 && bars[i-1].Close.IsPositive() {
			move, _ := b.Close.Sub(bars[i-1].Close).Div(bars[i-1].Close).Float64()
			if math.Abs(move) > v.MaxGapMove {
				issues = append(issues, Issue{
					Kind: "extreme_move", Severity: "warning", Date: b.Time(),
					Detail: fmt.Sprintf("close moved %.1f%% in one bar", move*100),
				})
			}
		}
	}
	return issues
}

func (v *QualityValidator) checkVolume(bars []types.MarketBar) []Issue {
	var issues []Issue
	total := decimal.Zero
	for _, b := range bars {
		total = total.Add(b.Volume)
	}
	n := len(bars)

	for _, b := range bars {
		if b.Volume.IsNegative() {
			issues = append(issues, Issue{
				Kind: "bad_volume", Severity: "critical", Date: b.Time(),
				Detail: "negative volume",
			})
			continue
		}
		if n < 2 {
			continue
		}
		// compare against the other bars so a spike does not inflate its own baseline
		avgF, _ := total.Sub(b.Volume).Div(decimal.NewFromInt(int64(n - 1))).Float64()
		volF, _ := b.Volume.Float64()
		if avgF > 0 && volF > avgF*v.MaxVolumeMultiple {
			issues = append(issues, Issue{
				Kind: "volume_spike", Severity: "warning", Date: b.Time(),
				Detail: fmt.Sprintf("volume %.0fx the average of the other bars", volF/avgF),
			})
		}
	}
	return issues
}

// scoreIssues maps the issue list to a 0-100 score: criticals cost 15
// points, warnings 3, scaled down when the series is long enough that a
// handful of defects barely matters.
func scoreIssues(totalBars int, issues []Issue) int {
	if totalBars == 0 {
		return 0
	}
	penalty := 0.0
	for _, is := range issues {
		if is.Severity == "critical" {
			penalty += 15
		} else {
			penalty += 3
		}
	}
	if totalBars > 100 {
		penalty *= 100.0 / float64(totalBars)
	}
	score := 100 - int(penalty)
	if score < 0 {
		score = 0
	}
	return score
}

func hasCritical(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == "critical" {
			return true
		}
	}
	return false
}

// SanitizeBars returns bars sorted ascending with duplicate timestamps
// collapsed (latest wins) and rows violating OHLC/volume invariants
// dropped. LoadBars applies this so a sloppy ingestion feed can't poison
// downstream analytics.
func SanitizeBars(bars []types.MarketBar) []types.MarketBar {
	byTS := make(map[int64]types.MarketBar, len(bars))
	order := make([]int64, 0, len(bars))
	for _, b := range bars {
		if !b.Valid() || !b.Close.IsPositive() {
			continue
		}
		if _, exists := byTS[b.TimestampMS]; !exists {
			order = append(order, b.TimestampMS)
		}
		byTS[b.TimestampMS] = b
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]types.MarketBar, 0, len(order))
	for _, ts := range order {
		out = append(out, byTS[ts])
	}
	return out
}
