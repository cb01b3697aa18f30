// Package trend turns raw event counts into fixed, gap-free time series.
package trend

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

type Granularity string

const (
	Hour Granularity = "hour"
	Day  Granularity = "day"
	// Auto picks Hour for windows up to AutoHourlyLimit and Day beyond.
	Auto Granularity = "auto"
)

const (
	HourLayout = "2006-01-02 15"
	DayLayout  = "2006-01-02"

	AutoHourlyLimit = 48 * time.Hour

	// MinDocCount is the value of a bucket with no events.
	MinDocCount int64 = 0
)

// ParseGranularity reads a query value. Empty means Auto.
func ParseGranularity(s string) (Granularity, error) {
	if s == "" {
		return Auto, nil
	}
	if g := Granularity(s); g.valid() {
		return g, nil
	}
	return "", &UnknownGranularityError{Value: s}
}

func (g Granularity) valid() bool {
	switch g {
	case Hour, Day, Auto:
		return true
	}
	return false
}

// UnknownGranularityError is returned for anything other than hour, day or auto.
type UnknownGranularityError struct {
	Value string
}

func (e *UnknownGranularityError) Error() string {
	return fmt.Sprintf("unknown granularity %q: must be one of hour, day, auto", e.Value)
}

func (e *UnknownGranularityError) Is(target error) bool {
	return target == validation.ErrInvalid
}

func (g Granularity) step() time.Duration {
	if g == Day {
		return 24 * time.Hour
	}
	return time.Hour
}

func (g Granularity) layout() string {
	if g == Day {
		return DayLayout
	}
	return HourLayout
}

// Truncate returns the UTC start of the unit containing t.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if g == Day {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Window is an inclusive time range. Both endpoints fall in a bucket.
type Window struct {
	Min time.Time
	Max time.Time
}

// InvalidWindowError is returned when Min is after Max.
type InvalidWindowError struct {
	Min time.Time
	Max time.Time
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("invalid trend window: min %s is after max %s",
		e.Min.Format(time.RFC3339), e.Max.Format(time.RFC3339))
}

func (e *InvalidWindowError) Is(target error) bool {
	return target == validation.ErrInvalid
}

// Resolve replaces Auto with the concrete granularity for w.
func (g Granularity) Resolve(w Window) Granularity {
	if g != Auto {
		return g
	}
	if w.Max.Sub(w.Min) <= AutoHourlyLimit {
		return Hour
	}
	return Day
}

// CountLookup returns the event count of the bucket starting at start, and
// false when the bucket has no data.
type CountLookup func(start time.Time) (int64, bool)

// MapLookup adapts a bucket-start keyed map to a CountLookup.
func MapLookup(counts map[time.Time]int64) CountLookup {
	return func(start time.Time) (int64, bool) {
		n, ok := counts[start]
		return n, ok
	}
}

// BucketCount returns how many buckets Compute will produce for w.
func BucketCount(w Window, g Granularity) int {
	if !g.valid() {
		return 0
	}
	g = g.Resolve(w)
	lo, hi := g.Truncate(w.Min), g.Truncate(w.Max)
	if hi.Before(lo) {
		return 0
	}
	return int(hi.Sub(lo)/g.step()) + 1
}

// Compute produces one bucket per granularity unit from Min to Max inclusive,
// ascending and without gaps. Both endpoints are first truncated to the unit.
// Units absent from lookup get MinDocCount.
func Compute(w Window, g Granularity, lookup CountLookup) ([]models.TrendBucket, error) {
	if !g.valid() {
		return nil, &UnknownGranularityError{Value: string(g)}
	}
	if w.Min.After(w.Max) {
		return nil, &InvalidWindowError{Min: w.Min, Max: w.Max}
	}
	g = g.Resolve(w)
	lo := g.Truncate(w.Min)
	n := BucketCount(w, g)

	buckets := make([]models.TrendBucket, n)
	for i := 0; i < n; i++ {
		start := lo.Add(time.Duration(i) * g.step())
		count := MinDocCount
		if lookup != nil {
			if c, ok := lookup(start); ok {
				count = c
			}
		}
		buckets[i] = models.TrendBucket{Timestamp: start.Format(g.layout()), Count: count}
	}
	return buckets, nil
}

// Last24Hours is the hourly window of the 24 hours ending at the hour
// containing now.
func Last24Hours(now time.Time) Window {
	end := Hour.Truncate(now)
	return Window{Min: end.Add(-23 * time.Hour), Max: end}
}

// Last14Days is the daily window of the 14 days ending today (UTC).
func Last14Days(now time.Time) Window {
	end := Day.Truncate(now)
	return Window{Min: end.AddDate(0, 0, -13), Max: end}
}
