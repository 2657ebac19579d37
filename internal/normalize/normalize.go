package normalize

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/metrics"
	"github.com/socialpulse/ig-insights/internal/models"
)

const (
	// FollowerCountMetric values at or below FollowerCountFloor are dropped
	FollowerCountMetric = "follower_count"
	FollowerCountFloor  = 100

	graphTimeLayout = "2006-01-02T15:04:05-0700"
	captionEllipsis = "..."
)

// Options configures a Normalizer
type Options struct {
	CaptionMaxLength int // runes; 0 keeps captions whole
}

// Normalizer maps raw Graph API records into models. It is stateless and
// safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New creates a normalizer
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

type rawInsight struct {
	Name        *string    `json:"name"`
	Period      *string    `json:"period"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	ID          *string    `json:"id"`
	Values      []rawPoint `json:"values"`
}

type rawPoint struct {
	Value   json.RawMessage `json:"value"`
	EndTime *string         `json:"end_time"`
}

type rawPost struct {
	ID            *string `json:"id"`
	Permalink     *string `json:"permalink"`
	Caption       *string `json:"caption"`
	MediaType     *string `json:"media_type"`
	Timestamp     *string `json:"timestamp"`
	LikeCount     *int64  `json:"like_count"`
	CommentsCount *int64  `json:"comments_count"`
}

// Insights normalizes insight entries. Entries without a name or that fail
// to decode are skipped; the rest of the batch is kept.
func (n *Normalizer) Insights(records []json.RawMessage, requested models.Period) []models.MetricSeries {
	series := make([]models.MetricSeries, 0, len(records))

	for _, record := range records {
		var raw rawInsight
		if err := json.Unmarshal(record, &raw); err != nil {
			dropped("malformed_insight")
			logrus.Debugf("Skipping malformed insight entry: %v", err)
			continue
		}
		if raw.Name == nil || *raw.Name == "" {
			dropped("missing_name")
			continue
		}

		s := models.MetricSeries{
			Name:   *raw.Name,
			Period: requested,
			Values: []models.MetricValue{},
		}
		if raw.Period != nil && *raw.Period != "" {
			s.Period = models.Period(*raw.Period)
		}
		s.Known = known(s.Name, s.Period)

		info := Catalog[s.Name]
		s.Title = stringOr(raw.Title, info.Title)
		s.Description = stringOr(raw.Description, info.Description)
		s.ID = stringOr(raw.ID, "")

		for _, p := range raw.Values {
			v, ok := point(p)
			if !ok {
				dropped("unsupported_value")
				continue
			}
			if s.Name == FollowerCountMetric && v.Value <= FollowerCountFloor {
				dropped("follower_floor")
				continue
			}
			s.Values = append(s.Values, v)
		}

		sort.SliceStable(s.Values, func(i, j int) bool {
			return s.Values[i].EndTime.Before(s.Values[j].EndTime)
		})

		if !s.Known {
			logrus.WithFields(logrus.Fields{
				"metric": s.Name,
				"period": s.Period,
			}).Debug("Passing through unrecognized metric")
		}
		series = append(series, s)
	}

	return series
}

// Posts normalizes media records. Records without an id are skipped.
func (n *Normalizer) Posts(records []json.RawMessage) []models.PostRecord {
	posts := make([]models.PostRecord, 0, len(records))

	for _, record := range records {
		var raw rawPost
		if err := json.Unmarshal(record, &raw); err != nil {
			dropped("malformed_post")
			logrus.Debugf("Skipping malformed media record: %v", err)
			continue
		}
		if raw.ID == nil || *raw.ID == "" {
			dropped("missing_id")
			continue
		}

		post := models.PostRecord{
			ID:            *raw.ID,
			Permalink:     stringOr(raw.Permalink, ""),
			Caption:       n.caption(stringOr(raw.Caption, "")),
			MediaType:     stringOr(raw.MediaType, ""),
			LikeCount:     count(raw.LikeCount),
			CommentsCount: count(raw.CommentsCount),
		}
		if raw.Timestamp != nil {
			post.Timestamp, _ = parseTime(*raw.Timestamp)
		}
		posts = append(posts, post)
	}

	return posts
}

func (n *Normalizer) caption(s string) string {
	limit := n.opts.CaptionMaxLength
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + captionEllipsis
}

// point decodes one value: a number, or an object of numbers kept as a
// breakdown whose Value is the sum. Anything else is unsupported.
func point(p rawPoint) (models.MetricValue, bool) {
	var v models.MetricValue
	if p.EndTime != nil {
		v.EndTime, _ = parseTime(*p.EndTime)
	}

	trimmed := bytes.TrimSpace(p.Value)
	if len(trimmed) == 0 {
		return v, false
	}

	switch trimmed[0] {
	case '{':
		var breakdown map[string]float64
		if err := json.Unmarshal(trimmed, &breakdown); err != nil {
			return v, false
		}
		keys := make([]string, 0, len(breakdown))
		for k := range breakdown {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v.Value += breakdown[k]
		}
		v.Breakdown = breakdown
		return v, true
	case '"', '[', 't', 'f', 'n':
		return v, false
	default:
		if err := json.Unmarshal(trimmed, &v.Value); err != nil {
			return v, false
		}
		return v, true
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(graphTimeLayout, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func count(v *int64) int {
	if v == nil || *v < 0 {
		return 0
	}
	return int(*v)
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func dropped(reason string) {
	metrics.NormalizerDropped.WithLabelValues(reason).Inc()
}

// Find returns the series with the given name
func Find(series []models.MetricSeries, name string) (models.MetricSeries, bool) {
	for _, s := range series {
		if s.Name == name {
			return s, true
		}
	}
	return models.MetricSeries{}, false
}

// Latest returns the most recent point of a series
func Latest(s models.MetricSeries) (models.MetricValue, bool) {
	if len(s.Values) == 0 {
		return models.MetricValue{}, false
	}
	return s.Values[len(s.Values)-1], true
}

// Sum adds up all points of a series
func Sum(s models.MetricSeries) float64 {
	var total float64
	for _, v := range s.Values {
		total += v.Value
	}
	return total
}

// EngagementRate is engaged accounts as a percentage of reach, 0 without reach
func EngagementRate(engaged, reach float64) float64 {
	if reach <= 0 {
		return 0
	}
	return engaged / reach * 100
}
