package trends

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/models"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		valid    bool
	}{
		{"30d", 30, true},
		{"1d", 1, true},
		{"7d", 7, true},
		{"045d", 45, true},
		{"0d", 0, false},
		{"d", 0, false},
		{"30", 0, false},
		{"30days", 0, false},
		{"-5d", 0, false},
		{"+5d", 0, false},
		{" 5d", 0, false},
		{"5dd", 0, false},
		{"1.5d", 0, false},
		{"", 0, false},
		{"99999999999999999999d", 0, false},
		{"36501d", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			days, err := ParsePeriod(tt.input)
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, days)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidPeriodFormat)
		})
	}
}

func TestWindows(t *testing.T) {
	now := time.Date(2024, 9, 11, 12, 0, 0, 0, time.UTC)

	for _, days := range []int{1, 7, 30, 90} {
		current, previous := Windows(days, now)

		assert.Equal(t, now, current.End)
		assert.Equal(t, current.Start, previous.End, "windows must be adjacent")
		assert.Equal(t, current.Duration(), previous.Duration(), "windows must be equal length")
		assert.Equal(t, time.Duration(days)*24*time.Hour, current.Duration())
		assert.False(t, previous.End.After(current.Start), "windows must not overlap")
	}
}

func TestGrowthRate(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		expected float64
	}{
		{"growth", 1100, 1000, 10},
		{"decline", 900, 1000, -10},
		{"flat", 500, 500, 0},
		{"from zero", 42, 0, 100},
		{"both zero", 0, 0, 0},
		{"negative from zero", -3, 0, -100},
		{"to zero", 0, 250, -100},
		{"doubling", 20, 10, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := GrowthRate(tt.current, tt.previous)
			assert.InDelta(t, tt.expected, rate, 1e-9)
			assert.False(t, math.IsNaN(rate) || math.IsInf(rate, 0))
		})
	}
}

func TestComputeTrend(t *testing.T) {
	result := ComputeTrend("Test Growth", 150, 100)

	assert.Equal(t, models.TrendResult{
		Metric:        "Test Growth",
		CurrentValue:  150,
		PreviousValue: 100,
		GrowthRate:    50,
	}, result)
}

func series(name string, values ...float64) models.MetricSeries {
	s := models.MetricSeries{Name: name, Period: models.PeriodDay}
	start := time.Date(2024, 9, 1, 7, 0, 0, 0, time.UTC)
	for i, v := range values {
		s.Values = append(s.Values, models.MetricValue{Value: v, EndTime: start.Add(time.Duration(i) * 24 * time.Hour)})
	}
	return s
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	current := WindowData{Series: []models.MetricSeries{
		series("follower_count", 1050, 1100),
		series("reach", 100, 100),
		series("accounts_engaged", 30, 20),
	}}
	previous := WindowData{Series: []models.MetricSeries{
		series("follower_count", 980, 1000),
		series("reach", 200),
		series("accounts_engaged", 40),
	}}

	results := r.Compute(current, previous)

	require.Len(t, results, 2)
	assert.Equal(t, FollowerGrowthRate, results[0].Metric)
	assert.Equal(t, 1100.0, results[0].CurrentValue)
	assert.Equal(t, 1000.0, results[0].PreviousValue)
	assert.InDelta(t, 10.0, results[0].GrowthRate, 1e-9)

	assert.Equal(t, EngagementRateChange, results[1].Metric)
	assert.InDelta(t, 25.0, results[1].CurrentValue, 1e-9)
	assert.InDelta(t, 20.0, results[1].PreviousValue, 1e-9)
	assert.InDelta(t, 25.0, results[1].GrowthRate, 1e-9)
}

func TestDefaultRegistry_MissingData(t *testing.T) {
	results := DefaultRegistry().Compute(WindowData{}, WindowData{})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Zero(t, r.CurrentValue)
		assert.Zero(t, r.PreviousValue)
		assert.Zero(t, r.GrowthRate)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := DefaultRegistry()
	r.Register(Metric{
		Name:    "Reach Change",
		Sources: []string{"reach"},
		Extract: func(w WindowData) float64 { return 1 },
	})
	r.Register(Metric{
		Name:    FollowerGrowthRate,
		Sources: []string{"follower_count"},
		Extract: func(w WindowData) float64 { return 7 },
	})

	metrics := r.Metrics()
	require.Len(t, metrics, 3)
	assert.Equal(t, FollowerGrowthRate, metrics[0].Name)
	assert.Equal(t, 7.0, metrics[0].Extract(WindowData{}))
	assert.Equal(t, "Reach Change", metrics[2].Name)

	assert.Equal(t, []string{"follower_count", "accounts_engaged", "reach"}, r.Sources())
}
