package ranking

import (
	"sort"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/models"
)

const (
	// DefaultLimit applies when a caller does not ask for a limit
	DefaultLimit = 5
	MinLimit     = 1
	MaxLimit     = 50

	// MaxRangeDays is the widest time_range accepted for top posts
	MaxRangeDays = 30
)

// Rank orders posts by engagement score, highest first, keeping the input
// order among equal scores. The input slice is not modified.
func Rank(posts []models.PostRecord, limit int) []models.PostRecord {
	limit = ClampLimit(limit)

	ranked := append([]models.PostRecord(nil), posts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EngagementScore() > ranked[j].EngagementScore()
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if ranked == nil {
		ranked = []models.PostRecord{}
	}
	return ranked
}

// ClampLimit bounds a requested limit to [MinLimit, MaxLimit]
func ClampLimit(limit int) int {
	switch {
	case limit < MinLimit:
		return MinLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ValidateRange rejects ranges wider than MaxRangeDays
func ValidateRange(days int) error {
	if days > MaxRangeDays {
		return errs.New(errs.RangeTooWide, "time range of %d days exceeds the maximum of %d days", days, MaxRangeDays)
	}
	return nil
}
