package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for pipeline stages, batch items, publishing and the progress channel.
type Metrics struct {
	StageRuns        *prometheus.CounterVec
	BatchItems       *prometheus.CounterVec
	Publish          *prometheus.CounterVec
	ProgressFailures *prometheus.CounterVec
	AdapterDuration  *prometheus.HistogramVec
	ReapedPosts      prometheus.Counter
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketer",
			Name:      "stage_runs_total",
			Help:      "Stage function invocations by outcome.",
		}, []string{"stage", "outcome"}),
		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketer",
			Name:      "batch_items_total",
			Help:      "Per-item outcomes of batch stages.",
		}, []string{"stage", "outcome"}),
		Publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketer",
			Name:      "publish_total",
			Help:      "Scheduled publisher results by platform.",
		}, []string{"platform", "outcome"}),
		ProgressFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketer",
			Name:      "progress_publish_failures_total",
			Help:      "Progress events that could not be broadcast.",
		}, []string{"kind"}),
		AdapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketer",
			Name:      "adapter_duration_seconds",
			Help:      "Latency of external adapter calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"adapter"}),
		ReapedPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketer",
			Name:      "reaped_generating_posts_total",
			Help:      "Posts moved from generating to failed by the reaper.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketer",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route template and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.StageRuns, m.BatchItems, m.Publish, m.ProgressFailures, m.AdapterDuration, m.ReapedPosts, m.HTTPDuration)
	}
	return m
}

// Noop returns unregistered collectors, for tests and one-shot CLI runs.
func Noop() *Metrics { return New(nil) }

// OrNoop returns m, or unregistered collectors when m is nil.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return Noop()
	}
	return m
}
