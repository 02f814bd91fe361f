package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	sessionsActive       prometheus.Gauge
	sessionEventsTotal   *prometheus.CounterVec
	submissionsTotal     *prometheus.CounterVec
	rollbacksTotal       prometheus.Counter
	outcomesTotal        *prometheus.CounterVec
	evaluationSeconds    prometheus.Histogram
	storeFailuresTotal   *prometheus.CounterVec
	streamSubscribers    prometheus.Gauge
	broadcastDropsTotal  prometheus.Counter
	sessionsEvictedTotal prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assessment_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assessment_sessions_active",
			Help: "Sessions currently held in memory.",
		})

		sessionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_session_events_total",
			Help: "Session events applied, by event and result.",
		}, []string{"event", "result"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_submissions_total",
			Help: "Accepted submissions, by trigger.",
		}, []string{"trigger"})

		rollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessment_submission_rollbacks_total",
			Help: "Submissions rolled back to in-progress after a systemic failure.",
		})

		outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_question_outcomes_total",
			Help: "Per-question outcomes, by status.",
		}, []string{"status"})

		evaluationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assessment_evaluation_duration_seconds",
			Help:    "Duration of single answer evaluations.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		})

		storeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_store_failures_total",
			Help: "Best-effort persistence failures, by kind.",
		}, []string{"kind"})

		streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assessment_stream_subscribers",
			Help: "Open session snapshot streams.",
		})

		broadcastDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessment_stream_dropped_snapshots_total",
			Help: "Snapshots dropped because a subscriber was not keeping up.",
		})

		sessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessment_sessions_evicted_total",
			Help: "Idle sessions removed by the janitor.",
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			sessionsActive, sessionEventsTotal, submissionsTotal, rollbacksTotal,
			outcomesTotal, evaluationSeconds, storeFailuresTotal,
			streamSubscribers, broadcastDropsTotal, sessionsEvictedTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// SessionsActive exposes the in-memory session gauge.
func SessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return sessionsActive
}

// SessionEvents exposes the per-event counter.
func SessionEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionEventsTotal
}

// Submissions exposes the accepted submission counter.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// Rollbacks exposes the systemic failure counter.
func Rollbacks() prometheus.Counter {
	RegisterMetrics()
	return rollbacksTotal
}

// Outcomes exposes the per-question outcome counter.
func Outcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return outcomesTotal
}

// EvaluationDuration exposes the single evaluation histogram.
func EvaluationDuration() prometheus.Histogram {
	RegisterMetrics()
	return evaluationSeconds
}

// StoreFailures exposes the persistence failure counter.
func StoreFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return storeFailuresTotal
}

// StreamSubscribers exposes the open stream gauge.
func StreamSubscribers() prometheus.Gauge {
	RegisterMetrics()
	return streamSubscribers
}

// BroadcastDrops exposes the dropped snapshot counter.
func BroadcastDrops() prometheus.Counter {
	RegisterMetrics()
	return broadcastDropsTotal
}

// SessionsEvicted exposes the janitor eviction counter.
func SessionsEvicted() prometheus.Counter {
	RegisterMetrics()
	return sessionsEvictedTotal
}
