package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bugnest"

var (
	// Ingestion metrics
	eventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of events received, by outcome",
		},
		[]string{"result"}, // accepted, rejected, failed
	)

	issuesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_created_total",
			Help:      "Total number of new issues",
		},
	)

	aggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Issue upsert duration including lock wait",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
	)

	// Notification metrics
	rulesMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_matched_total",
			Help:      "Total number of notification rule matches",
		},
		[]string{"level"},
	)

	ruleConfigErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_config_errors_total",
			Help:      "Total number of malformed rules skipped during matching",
		},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total number of notification deliveries, by channel and status",
		},
		[]string{"channel", "status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Notification delivery duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	trendCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trend_cache_total",
			Help:      "Trend cache lookups, by result",
		},
		[]string{"result"}, // hit, miss
	)

	// Worker pool metrics
	poolJobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_jobs_queued",
			Help:      "Number of queued jobs in the pipeline worker pool",
		},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

func RecordEventIngested(result string) {
	eventsIngestedTotal.WithLabelValues(result).Inc()
}

func RecordIssueCreated() {
	issuesCreatedTotal.Inc()
}

func ObserveAggregation(d time.Duration) {
	aggregationDuration.Observe(d.Seconds())
}

func RecordRuleMatched(level string) {
	rulesMatchedTotal.WithLabelValues(level).Inc()
}

func RecordRuleConfigError() {
	ruleConfigErrorsTotal.Inc()
}

// RecordDispatch records one delivery attempt to a channel.
func RecordDispatch(channel string, err error, d time.Duration) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	dispatchTotal.WithLabelValues(channel, status).Inc()
	dispatchDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func RecordTrendCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	trendCacheTotal.WithLabelValues(result).Inc()
}

func SetPoolJobsQueued(n int) {
	poolJobsQueued.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
