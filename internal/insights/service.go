package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/socialpulse/ig-insights/internal/config"
	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/graph"
	"github.com/socialpulse/ig-insights/internal/metrics"
	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/normalize"
	"github.com/socialpulse/ig-insights/internal/ranking"
	"github.com/socialpulse/ig-insights/internal/storage"
	"github.com/socialpulse/ig-insights/internal/trends"
)

// mediaFields are requested for every media record
const mediaFields = "id,caption,permalink,timestamp,like_count,comments_count,media_type"

// DigestTopPosts is the number of posts included in a digest
const DigestTopPosts = 5

// Upstream is the part of the Graph client the service depends on
type Upstream interface {
	Fetch(endpoint string, params url.Values, opts ...graph.FetchOption) *graph.Pager
}

// Options configures a Service
type Options struct {
	AccountID        string
	TopPostsMaxPages int
	DigestPeriod     string
	DigestSchedule   string
	DigestHistory    int                      // stored digests kept; 0 keeps all
	Store            storage.StorageInterface // optional digest history
	Now              func() time.Time
}

// OptionsFromConfig maps the service configuration onto Options
func OptionsFromConfig(cfg *config.Config, store storage.StorageInterface) Options {
	return Options{
		AccountID:        cfg.InstagramAccountID,
		TopPostsMaxPages: cfg.TopPostsMaxPages,
		DigestPeriod:     cfg.DigestPeriod,
		DigestSchedule:   cfg.DigestSchedule,
		DigestHistory:    cfg.DigestHistory,
		Store:            store,
	}
}

// Query selects account insights
type Query struct {
	Period  models.Period
	Metrics []string
	Since   time.Time // zero when unbounded
	Until   time.Time // zero when unbounded
}

// Service is the insights aggregation engine: it pulls normalized data
// through the Graph client and derives trends and rankings from it.
type Service struct {
	upstream   Upstream
	normalizer *normalize.Normalizer
	registry   *trends.Registry
	opts       Options
}

// NewService creates a new insights service
func NewService(upstream Upstream, normalizer *normalize.Normalizer, registry *trends.Registry, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if registry == nil {
		registry = trends.DefaultRegistry()
	}
	return &Service{
		upstream:   upstream,
		normalizer: normalizer,
		registry:   registry,
		opts:       opts,
	}
}

// AccountInsights returns the requested account metrics
func (s *Service) AccountInsights(ctx context.Context, q Query) ([]models.MetricSeries, error) {
	if !q.Period.Known() {
		return nil, errs.New(errs.InvalidRequest, "invalid period %q: must be one of day, week, days_28", q.Period)
	}
	metrics := cleanMetrics(q.Metrics)
	if len(metrics) == 0 {
		return nil, errs.New(errs.InvalidRequest, "at least one metric is required")
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Since.After(q.Until) {
		return nil, errs.New(errs.InvalidRequest, "since must not be after until")
	}

	params := url.Values{}
	params.Set("metric", strings.Join(metrics, ","))
	params.Set("period", string(q.Period))
	if !q.Since.IsZero() {
		params.Set("since", strconv.FormatInt(q.Since.Unix(), 10))
	}
	if !q.Until.IsZero() {
		params.Set("until", strconv.FormatInt(q.Until.Unix(), 10))
	}

	records, err := s.collect(ctx, s.insightsEndpoint(), params)
	if err != nil {
		return nil, err
	}

	series := s.normalizer.Insights(records, q.Period)
	logrus.WithFields(logrus.Fields{
		"period":  q.Period,
		"metrics": len(metrics),
		"series":  len(series),
	}).Debug("Fetched account insights")
	return series, nil
}

// GrowthTrends compares the current window of the given "<N>d" period with
// the window of equal length before it.
func (s *Service) GrowthTrends(ctx context.Context, period string) ([]models.TrendResult, error) {
	days, err := trends.ParsePeriod(period)
	if err != nil {
		return nil, err
	}

	current, previous := trends.Windows(days, s.opts.Now())
	sources := s.registry.Sources()

	var currentData, previousData trends.WindowData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := s.windowData(gctx, current, sources)
		currentData = data
		return err
	})
	g.Go(func() error {
		data, err := s.windowData(gctx, previous, sources)
		previousData = data
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := s.registry.Compute(currentData, previousData)
	logrus.WithFields(logrus.Fields{
		"period":         period,
		"current_start":  current.Start,
		"previous_start": previous.Start,
		"trends":         len(results),
	}).Info("Computed growth trends")
	return results, nil
}

func (s *Service) windowData(ctx context.Context, w trends.Window, sources []string) (trends.WindowData, error) {
	data := trends.WindowData{Window: w}
	if len(sources) == 0 {
		return data, nil
	}

	params := url.Values{}
	params.Set("metric", strings.Join(sources, ","))
	params.Set("period", string(models.PeriodDay))
	params.Set("since", strconv.FormatInt(w.Start.Unix(), 10))
	params.Set("until", strconv.FormatInt(w.End.Unix(), 10))

	records, err := s.collect(ctx, s.insightsEndpoint(), params)
	if err != nil {
		return data, fmt.Errorf("failed to fetch insights for window starting %s: %w", w.Start.Format(time.DateOnly), err)
	}
	data.Series = s.normalizer.Insights(records, models.PeriodDay)
	return data, nil
}

// TopPosts returns the highest-engagement posts published within timeRange.
// The range is validated before any upstream call.
func (s *Service) TopPosts(ctx context.Context, limit int, timeRange string) ([]models.PostRecord, error) {
	days, err := trends.ParsePeriod(timeRange)
	if err != nil {
		return nil, err
	}
	if err := ranking.ValidateRange(days); err != nil {
		return nil, err
	}

	cutoff := s.opts.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	params := url.Values{}
	params.Set("fields", mediaFields)

	var opts []graph.FetchOption
	if s.opts.TopPostsMaxPages > 0 {
		opts = append(opts, graph.WithMaxPages(s.opts.TopPostsMaxPages))
	}
	pager := s.upstream.Fetch(s.mediaEndpoint(), params, opts...)

	var inRange []models.PostRecord
	scanned := 0
	cutoffReached := false
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		reachedCutoff := false
		for _, post := range s.normalizer.Posts(page.Records) {
			scanned++
			if post.Timestamp.IsZero() {
				continue
			}
			if post.Timestamp.Before(cutoff) {
				// media is listed newest first
				reachedCutoff = true
				continue
			}
			inRange = append(inRange, post)
		}
		if reachedCutoff {
			cutoffReached = true
			pager.Stop()
		}
	}

	if pager.Truncated() && !cutoffReached {
		metrics.TopPostsTruncated.Inc()
		logrus.WithFields(logrus.Fields{
			"time_range": timeRange,
			"max_pages":  s.opts.TopPostsMaxPages,
			"scanned":    scanned,
			"oldest":     oldestTimestamp(inRange),
		}).Warn("Top posts page limit reached before the time range cutoff, ranking covers only the newest posts")
	}

	ranked := ranking.Rank(inRange, limit)
	logrus.WithFields(logrus.Fields{
		"time_range": timeRange,
		"scanned":    scanned,
		"in_range":   len(inRange),
		"returned":   len(ranked),
	}).Info("Ranked top posts")
	return ranked, nil
}

// Digest builds the periodic summary of trends and top posts
func (s *Service) Digest(ctx context.Context) (*models.Digest, error) {
	period := s.opts.DigestPeriod
	days, err := trends.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	// top posts cannot look further back than the ranking range allows
	postsRange := fmt.Sprintf("%dd", min(days, ranking.MaxRangeDays))

	digest := &models.Digest{
		GeneratedAt: s.opts.Now().UTC(),
		Period:      period,
		Schedule:    s.opts.DigestSchedule,
		AccountID:   s.opts.AccountID,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := s.GrowthTrends(gctx, period)
		digest.Trends = results
		return err
	})
	g.Go(func() error {
		posts, err := s.TopPosts(gctx, DigestTopPosts, postsRange)
		digest.TopPosts = posts
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build digest: %w", err)
	}

	if err := s.storeDigest(ctx, digest); err != nil {
		logrus.Warnf("Failed to store digest: %v", err)
	}
	return digest, nil
}

// LastDigest returns the most recently stored digest, nil when none exists
func (s *Service) LastDigest(ctx context.Context) (*models.Digest, error) {
	if s.opts.Store == nil {
		return nil, nil
	}
	names, err := s.opts.Store.List(ctx, "digests/")
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	// names embed the generation time so lexical order is chronological
	latest := names[0]
	for _, name := range names[1:] {
		if name > latest {
			latest = name
		}
	}

	data, err := s.opts.Store.Retrieve(ctx, latest)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve digest %s: %w", latest, err)
	}
	var digest models.Digest
	if err := json.Unmarshal(data, &digest); err != nil {
		return nil, fmt.Errorf("failed to decode digest %s: %w", latest, err)
	}
	return &digest, nil
}

func (s *Service) storeDigest(ctx context.Context, digest *models.Digest) error {
	if s.opts.Store == nil {
		return nil
	}
	data, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("failed to marshal digest: %w", err)
	}
	name := fmt.Sprintf("digests/%s.json", digest.GeneratedAt.Format("20060102T150405Z"))
	if err := s.opts.Store.Store(ctx, name, data); err != nil {
		return err
	}
	return s.pruneDigests(ctx)
}

// pruneDigests deletes the oldest stored digests beyond DigestHistory
func (s *Service) pruneDigests(ctx context.Context) error {
	if s.opts.DigestHistory <= 0 {
		return nil
	}
	names, err := s.opts.Store.List(ctx, "digests/")
	if err != nil {
		return fmt.Errorf("failed to list digests: %w", err)
	}
	if len(names) <= s.opts.DigestHistory {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-s.opts.DigestHistory] {
		if err := s.opts.Store.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete digest %s: %w", name, err)
		}
		logrus.WithField("digest", name).Debug("Pruned old digest")
	}
	return nil
}

func oldestTimestamp(posts []models.PostRecord) string {
	var oldest time.Time
	for _, p := range posts {
		if oldest.IsZero() || p.Timestamp.Before(oldest) {
			oldest = p.Timestamp
		}
	}
	if oldest.IsZero() {
		return ""
	}
	return oldest.Format(time.RFC3339)
}

// collect drains a pager into one record slice
func (s *Service) collect(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	pager := s.upstream.Fetch(endpoint, params)
	var records []json.RawMessage
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
	}
	return records, nil
}

func (s *Service) insightsEndpoint() string {
	return "/" + s.opts.AccountID + "/insights"
}

func (s *Service) mediaEndpoint() string {
	return "/" + s.opts.AccountID + "/media"
}

func cleanMetrics(metrics []string) []string {
	out := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
