// Package telemetry exposes opt-in metrics for cluster lifecycle operations.
// Everything defaults to a noop so library users pay nothing unless they
// enable collection.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram observes a distribution of values.
type Histogram interface {
	Observe(float64)
}

// Counter counts monotonically.
type Counter interface {
	Inc()
	Add(float64)
}

// HistogramVec provides labeled histograms.
type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat satisfies Counter and Histogram without recording anything.
type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Observe(float64) {}

type noopHistogramVec struct{}

func (noopHistogramVec) With(labels ...string) Histogram { return NoopStat{} }

type prometheusHistogramVec struct {
	vec *prometheus.HistogramVec
}

func (p prometheusHistogramVec) With(labels ...string) Histogram {
	return p.vec.WithLabelValues(labels...)
}

// MemberStartupBuckets covers container creation through readiness marker.
var MemberStartupBuckets = []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120}

var (
	// ClustersStarted counts successful cluster starts.
	ClustersStarted Counter = NoopStat{}

	// MemberStartupSeconds measures time from member start to readiness,
	// labeled by role.
	MemberStartupSeconds HistogramVec = noopHistogramVec{}

	// GfshRuns counts successful admin command batches.
	GfshRuns Counter = NoopStat{}

	// GfshFailures counts admin command batches that exited non-zero.
	GfshFailures Counter = NoopStat{}
)

var (
	registry *prometheus.Registry
	initOnce sync.Once
)

// Initialize switches the package metrics to real collectors. Safe to call
// from multiple cluster instances; only the first call takes effect.
func Initialize(enabled bool) {
	if !enabled {
		return
	}

	initOnce.Do(func() {
		registry = prometheus.NewRegistry()

		clustersStarted := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridcage_clusters_started_total",
			Help: "Number of clusters started successfully",
		})
		memberStartup := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridcage_member_startup_seconds",
			Help:    "Time from member start to readiness marker",
			Buckets: MemberStartupBuckets,
		}, []string{"role"})
		gfshRuns := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridcage_gfsh_runs_total",
			Help: "Number of successful gfsh command batches",
		})
		gfshFailures := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridcage_gfsh_failures_total",
			Help: "Number of gfsh command batches with non-zero exit",
		})

		registry.MustRegister(clustersStarted, memberStartup, gfshRuns, gfshFailures)

		ClustersStarted = clustersStarted
		MemberStartupSeconds = prometheusHistogramVec{vec: memberStartup}
		GfshRuns = gfshRuns
		GfshFailures = gfshFailures
	})
}

// Handler returns an HTTP handler serving the collected metrics, or nil when
// telemetry was never initialized.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
