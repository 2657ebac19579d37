package trends

import (
	"strconv"
	"strings"
	"time"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/models"
)

// MaxPeriodDays bounds ParsePeriod so window arithmetic stays within
// time.Duration range.
const MaxPeriodDays = 36500

const day = 24 * time.Hour

// Window is a half-open time range [Start, End)
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the window length
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ParsePeriod parses a relative period of the form "<N>d"
func ParsePeriod(s string) (int, error) {
	digits, ok := strings.CutSuffix(s, "d")
	if !ok || digits == "" {
		return 0, errs.New(errs.InvalidPeriodFormat, "invalid period %q: expected <N>d", s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, errs.New(errs.InvalidPeriodFormat, "invalid period %q: expected <N>d", s)
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || n > MaxPeriodDays {
		return 0, errs.New(errs.InvalidPeriodFormat, "invalid period %q: days must be between 1 and %d", s, MaxPeriodDays)
	}
	return n, nil
}

// Windows resolves the current window ending at now and the previous window
// of equal length immediately before it.
func Windows(days int, now time.Time) (current, previous Window) {
	length := time.Duration(days) * day
	end := now.UTC()

	current = Window{Start: end.Add(-length), End: end}
	previous = Window{Start: current.Start.Add(-length), End: current.Start}
	return current, previous
}

// GrowthRate returns the percentage change from previous to current. A zero
// previous value yields 100 for growth, 0 for no change and -100 for decline.
func GrowthRate(current, previous float64) float64 {
	if previous == 0 {
		switch {
		case current > 0:
			return 100
		case current < 0:
			return -100
		default:
			return 0
		}
	}
	return (current - previous) / previous * 100
}

// ComputeTrend compares a metric's values across two windows
func ComputeTrend(metric string, current, previous float64) models.TrendResult {
	return models.TrendResult{
		Metric:        metric,
		CurrentValue:  current,
		PreviousValue: previous,
		GrowthRate:    GrowthRate(current, previous),
	}
}
