package models

import "time"

// Credential is the long-lived Graph API access token held by the process
type Credential struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the credential can still be used at t
func (c Credential) ValidAt(t time.Time) bool {
	return c.Token != "" && c.ExpiresAt.After(t)
}

// RemainingAt returns the lifetime left at t
func (c Credential) RemainingAt(t time.Time) time.Duration {
	return c.ExpiresAt.Sub(t)
}

// Period is the aggregation period of an insight metric
type Period string

const (
	PeriodDay    Period = "day"
	PeriodWeek   Period = "week"
	PeriodDays28 Period = "days_28"
)

// Known reports whether the period belongs to the recognized set
func (p Period) Known() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodDays28:
		return true
	}
	return false
}

// MetricValue is one data point of a metric series
type MetricValue struct {
	Value     float64            `json:"value"`
	EndTime   time.Time          `json:"end_time"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"` // per-key values, e.g. online_followers by hour
}

// MetricSeries is a normalized insight metric, values sorted by EndTime ascending
type MetricSeries struct {
	Name        string        `json:"name"`
	Period      Period        `json:"period"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	ID          string        `json:"id"`
	Known       bool          `json:"-"`
	Values      []MetricValue `json:"values"`
}

// PostRecord is a normalized media object
type PostRecord struct {
	ID            string    `json:"id"`
	Permalink     string    `json:"permalink"`
	Caption       string    `json:"caption"`
	MediaType     string    `json:"media_type,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	LikeCount     int       `json:"like_count"`
	CommentsCount int       `json:"comments_count"`
}

// EngagementScore is recomputed from the counts on every call
func (p PostRecord) EngagementScore() int {
	return p.LikeCount + p.CommentsCount
}

// TrendResult compares one metric across two equal-length windows
type TrendResult struct {
	Metric        string  `json:"metric"`
	CurrentValue  float64 `json:"current_value"`
	PreviousValue float64 `json:"previous_value"`
	GrowthRate    float64 `json:"growth_rate"`
}

// Digest is the periodic insights summary sent to notification channels
type Digest struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Period      string        `json:"period"`   // relative window, e.g. "7d"
	Schedule    string        `json:"schedule"` // "daily" or "weekly"
	AccountID   string        `json:"account_id"`
	Trends      []TrendResult `json:"trends"`
	TopPosts    []PostRecord  `json:"top_posts"`
}

// Alert represents an operational notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "warning", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
