package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botsentry_pipeline_runs_total",
			Help: "Total pipeline runs by terminal outcome",
		},
		[]string{"status"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botsentry_pipeline_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	ActivityExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botsentry_activity_extracted_total",
			Help: "Total activity items persisted by extraction",
		},
	)

	AuthorsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botsentry_authors_extracted_total",
			Help: "Total author profiles persisted by extraction",
		},
	)

	ProfileFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botsentry_profile_fetch_failures_total",
			Help: "Per-author profile fetches skipped after an upstream failure",
		},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botsentry_upstream_requests_total",
			Help: "Requests issued to the upstream data source",
		},
		[]string{"endpoint", "status"},
	)

	AccountsScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botsentry_accounts_scored_total",
			Help: "Total accounts scored by the detection engine",
		},
	)

	BotProbability = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botsentry_bot_probability",
			Help:    "Distribution of computed bot probabilities",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ProfileCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botsentry_profile_cache_hits_total",
			Help: "Upstream profile fetches served from cache",
		},
	)
)

func Init() {
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(ActivityExtracted)
	prometheus.MustRegister(AuthorsExtracted)
	prometheus.MustRegister(ProfileFetchFailures)
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(AccountsScored)
	prometheus.MustRegister(BotProbability)
	prometheus.MustRegister(ProfileCacheHits)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
