package analytics

import (
	"math"
	"sort"
	"time"
)

// Timeframe is one of the resampler's recognized keys.
type Timeframe string

const (
	TF1h Timeframe = "1h"
	TF4h Timeframe = "4h"
	TF1d Timeframe = "1d"
	TF1w Timeframe = "1w"
	TF1m Timeframe = "1m"
)

// bucketDuration maps a timeframe key to its bucket width. 1w/1m use
// calendar-based bucketing handled separately in bucketStart.
func bucketDuration(tf Timeframe) time.Duration {
	switch tf {
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func bucketStart(t time.Time, tf Timeframe) time.Time {
	switch tf {
	case TF1h:
		return t.Truncate(time.Hour)
	case TF4h:
		h := (t.Hour() / 4) * 4
		return time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, t.Location())
	case TF1d:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case TF1w:
		wd := int(t.Weekday())
		return time.Date(t.Year(), t.Month(), t.Day()-wd, 0, 0, 0, 0, t.Location())
	case TF1m:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

// Point is a single (time, value) observation used by the resampler and
// interpolation helpers.
type Point struct {
	Time  time.Time
	Value float64
}

// DedupeLatest sorts points ascending by time and removes duplicate
// timestamps, keeping the latest-inserted value for each timestamp.
func DedupeLatest(points []Point) []Point {
	byTime := make(map[int64]Point, len(points))
	order := make([]int64, 0, len(points))
	for _, p := range points {
		key := p.Time.UnixMilli()
		if _, exists := byTime[key]; !exists {
			order = append(order, key)
		}
		byTime[key] = p
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]Point, 0, len(order))
	for _, key := range order {
		out = append(out, byTime[key])
	}
	return out
}

// Resample aggregates points into buckets of the given timeframe. For
// 1h/4h, the bucket's value is the last observation in the bucket
// (OHLC's primary close); for 1d and longer, buckets also collapse to
// the last value. Points must already be deduplicated/sorted.
func Resample(points []Point, tf Timeframe) []Point {
	if len(points) == 0 {
		return nil
	}
	type bucket struct {
		start time.Time
		last  float64
	}
	var buckets []bucket
	for _, p := range points {
		start := bucketStart(p.Time, tf)
		if len(buckets) > 0 && buckets[len(buckets)-1].start.Equal(start) {
			buckets[len(buckets)-1].last = p.Value
			continue
		}
		buckets = append(buckets, bucket{start: start, last: p.Value})
	}
	out := make([]Point, len(buckets))
	for i, b := range buckets {
		out[i] = Point{Time: b.start, Value: b.last}
	}
	return out
}

// Interpolate fills gaps in a dense, evenly-spaced series: linear
// interpolation over internal gaps up to maxGap consecutive missing
// values (NaN), then forward-fill, then back-fill for any remainder.
// Returns the filled values plus per-index interpolated/forward-filled
// flags (matching MacroIndicatorPoint.IsInterpolated/IsForwardFilled).
func Interpolate(values []float64, maxGap int) (filled []float64, interpolated, forwardFilled []bool) {
	n := len(values)
	filled = make([]float64, n)
	copy(filled, values)
	interpolated = make([]bool, n)
	forwardFilled = make([]bool, n)

	i := 0
	for i < n {
		if !math.IsNaN(filled[i]) {
			i++
			continue
		}
		start := i
		for i < n && math.IsNaN(filled[i]) {
			i++
		}
		gapLen := i - start
		haveLeft := start > 0
		haveRight := i < n
		if haveLeft && haveRight && gapLen <= maxGap {
			left, right := filled[start-1], filled[i]
			for j := start; j < i; j++ {
				frac := float64(j-start+1) / float64(gapLen+1)
				filled[j] = left + (right-left)*frac
				interpolated[j] = true
			}
		}
	}

	// Forward-fill remaining internal/trailing NaNs.
	var last float64
	haveLast := false
	for j := 0; j < n; j++ {
		if math.IsNaN(filled[j]) {
			if haveLast {
				filled[j] = last
				forwardFilled[j] = true
			}
			continue
		}
		last = filled[j]
		haveLast = true
	}

	// Back-fill any still-NaN leading entries.
	var next float64
	haveNext := false
	for j := n - 1; j >= 0; j-- {
		if math.IsNaN(filled[j]) {
			if haveNext {
				filled[j] = next
				forwardFilled[j] = true
			}
			continue
		}
		next = filled[j]
		haveNext = true
	}
	return filled, interpolated, forwardFilled
}
