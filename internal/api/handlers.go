package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/credentials"
	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/insights"
	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/ranking"
)

// Engine is the insights aggregation engine behind the HTTP surface
type Engine interface {
	AccountInsights(ctx context.Context, q insights.Query) ([]models.MetricSeries, error)
	GrowthTrends(ctx context.Context, period string) ([]models.TrendResult, error)
	TopPosts(ctx context.Context, limit int, timeRange string) ([]models.PostRecord, error)
	LastDigest(ctx context.Context) (*models.Digest, error)
}

// CredentialStatus reports the state of the held access token
type CredentialStatus interface {
	Status() credentials.Status
}

// DigestRunner builds and sends the insights digest
type DigestRunner interface {
	RunDigest() error
}

// Handler serves the HTTP API
type Handler struct {
	engine  Engine
	creds   CredentialStatus
	digests DigestRunner
}

// NewHandler creates the API handler. digests may be nil when no digest
// schedule is configured.
func NewHandler(engine Engine, creds CredentialStatus, digests DigestRunner) *Handler {
	return &Handler{
		engine:  engine,
		creds:   creds,
		digests: digests,
	}
}

type insightValue struct {
	Value     float64            `json:"value"`
	EndTime   string             `json:"end_time,omitempty"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

type insightData struct {
	Name        string         `json:"name"`
	Period      string         `json:"period"`
	Values      []insightValue `json:"values"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ID          string         `json:"id"`
}

type topPost struct {
	ID              string `json:"id"`
	Permalink       string `json:"permalink"`
	Caption         string `json:"caption"`
	LikeCount       int    `json:"like_count"`
	CommentsCount   int    `json:"comments_count"`
	EngagementScore int    `json:"engagement_score"`
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Instagram Insights API Integration"})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.creds.Status()

	body := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"credential": status,
	}
	code := http.StatusOK
	if !status.Valid {
		body["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (h *Handler) accountInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period := q.Get("period")
	if period == "" {
		writeError(w, r, errs.New(errs.InvalidRequest, "period is required"))
		return
	}
	metricList := q.Get("metrics")
	if metricList == "" {
		writeError(w, r, errs.New(errs.InvalidRequest, "metrics is required"))
		return
	}

	query := insights.Query{
		Period:  models.Period(period),
		Metrics: strings.Split(metricList, ","),
	}

	var err error
	if query.Since, err = unixParam(q.Get("since"), "since"); err != nil {
		writeError(w, r, err)
		return
	}
	if query.Until, err = unixParam(q.Get("until"), "until"); err != nil {
		writeError(w, r, err)
		return
	}

	series, err := h.engine.AccountInsights(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data := make([]insightData, 0, len(series))
	for _, s := range series {
		values := make([]insightValue, 0, len(s.Values))
		for _, v := range s.Values {
			iv := insightValue{Value: v.Value, Breakdown: v.Breakdown}
			if !v.EndTime.IsZero() {
				iv.EndTime = v.EndTime.Format(time.RFC3339)
			}
			values = append(values, iv)
		}
		data = append(data, insightData{
			Name:        s.Name,
			Period:      string(s.Period),
			Values:      values,
			Title:       s.Title,
			Description: s.Description,
			ID:          s.ID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (h *Handler) growthTrends(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		writeError(w, r, errs.New(errs.InvalidRequest, "period is required"))
		return
	}

	results, err := h.engine.GrowthTrends(r.Context(), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []models.TrendResult{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"trends": results})
}

func (h *Handler) topPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	timeRange := q.Get("time_range")
	if timeRange == "" {
		writeError(w, r, errs.New(errs.InvalidRequest, "time_range is required"))
		return
	}

	limit := ranking.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, errs.New(errs.InvalidRequest, "invalid limit %q: must be an integer", v))
			return
		}
		limit = n
	}

	posts, err := h.engine.TopPosts(r.Context(), limit, timeRange)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]topPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, topPost{
			ID:              p.ID,
			Permalink:       p.Permalink,
			Caption:         p.Caption,
			LikeCount:       p.LikeCount,
			CommentsCount:   p.CommentsCount,
			EngagementScore: p.EngagementScore(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"top_posts": out})
}

func (h *Handler) latestDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := h.engine.LastDigest(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if digest == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "no digest has been generated yet"})
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (h *Handler) triggerDigest(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := h.digests.RunDigest(); err != nil {
			logrus.Errorf("Manual digest trigger failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Digest triggered successfully"})
}

func unixParam(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errs.New(errs.InvalidRequest, "invalid %s %q: must be a Unix timestamp", name, v)
	}
	return time.Unix(secs, 0).UTC(), nil
}
