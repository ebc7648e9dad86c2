package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xdigest_runs_total",
		Help: "Digest runs by outcome",
	}, []string{"outcome"})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xdigest_run_duration_seconds",
		Help:    "Digest run duration seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})
	FollowSets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xdigest_follow_sets_total",
		Help: "Resolved follow sets by source",
	}, []string{"source"})
	ProviderCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xdigest_provider_calls_total",
		Help: "Provider calls by operation and status",
	}, []string{"operation", "status"})
	ProviderDegraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xdigest_provider_degraded_total",
		Help: "Provider calls that failed and were treated as empty",
	}, []string{"operation"})
	APIRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xdigest_apify_retries_total",
		Help: "Total Apify API retry attempts",
	})
	PostsCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xdigest_posts_collected_total",
		Help: "Posts that passed the recency filter",
	})
	FanoutInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xdigest_fanout_in_flight",
		Help: "Post fetches currently running",
	})
)

func init() {
	prometheus.MustRegister(Runs, RunDuration, FollowSets, ProviderCalls, ProviderDegraded, APIRetries, PostsCollected, FanoutInFlight)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a finished run
func ObserveRun(outcome string, elapsed time.Duration) {
	Runs.WithLabelValues(outcome).Inc()
	RunDuration.Observe(elapsed.Seconds())
}

// ObserveProviderCall counts one provider call; degraded calls are also counted separately
func ObserveProviderCall(operation string, degraded bool) {
	status := "ok"
	if degraded {
		status = "degraded"
		ProviderDegraded.WithLabelValues(operation).Inc()
	}
	ProviderCalls.WithLabelValues(operation, status).Inc()
}

// IncFollowSet counts a resolved follow set by source
func IncFollowSet(source string) { FollowSets.WithLabelValues(source).Inc() }

// IncAPIRetry counts one Apify retry
func IncAPIRetry() { APIRetries.Inc() }
