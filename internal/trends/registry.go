package trends

import (
	"sync"

	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/normalize"
)

// Metric names reported by the default registry
const (
	FollowerGrowthRate   = "Follower Growth Rate"
	EngagementRateChange = "Engagement Rate Change"
)

// WindowData holds the normalized series fetched for one window
type WindowData struct {
	Window Window
	Series []models.MetricSeries
}

// Value returns the series with the given name, empty when absent
func (w WindowData) Value(name string) models.MetricSeries {
	s, _ := normalize.Find(w.Series, name)
	return s
}

// Metric derives one comparable number from a window
type Metric struct {
	Name    string
	Sources []string // upstream insight metrics Extract reads
	Extract func(WindowData) float64
}

// Registry is an ordered set of trend metrics
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry reports follower growth and engagement rate change
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Metric{
		Name:    FollowerGrowthRate,
		Sources: []string{normalize.FollowerCountMetric},
		Extract: func(w WindowData) float64 {
			latest, _ := normalize.Latest(w.Value(normalize.FollowerCountMetric))
			return latest.Value
		},
	})
	r.Register(Metric{
		Name:    EngagementRateChange,
		Sources: []string{"accounts_engaged", "reach"},
		Extract: func(w WindowData) float64 {
			return normalize.EngagementRate(
				normalize.Sum(w.Value("accounts_engaged")),
				normalize.Sum(w.Value("reach")),
			)
		},
	})
	return r
}

// Register appends a metric; a metric with the same name is replaced in place
func (r *Registry) Register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.metrics {
		if r.metrics[i].Name == m.Name {
			r.metrics[i] = m
			return
		}
	}
	r.metrics = append(r.metrics, m)
}

// Metrics returns the registered metrics in registration order
func (r *Registry) Metrics() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Metric(nil), r.metrics...)
}

// Sources returns the distinct upstream metrics needed by all registered
// metrics, in first-seen order.
func (r *Registry) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range r.Metrics() {
		for _, s := range m.Sources {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Compute returns one trend per registered metric
func (r *Registry) Compute(current, previous WindowData) []models.TrendResult {
	metrics := r.Metrics()
	results := make([]models.TrendResult, 0, len(metrics))
	for _, m := range metrics {
		results = append(results, ComputeTrend(m.Name, m.Extract(current), m.Extract(previous)))
	}
	return results
}
