package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern. Ask requests include model round trips.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_agent_runs_total",
			Help: "Total number of agent runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	agentStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_agent_steps_total",
			Help: "Total number of agent steps by action.",
		},
		[]string{"action"},
	)
	agentRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_agent_run_duration_seconds",
			Help:    "Wall time of a full agent run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_validation_rejections_total",
			Help: "Total number of generated statements rejected before execution.",
		},
		[]string{"kind"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_duration_ms",
			Help:    "Execution latency of validated statements in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
	)
	queryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_query_failures_total",
			Help: "Total number of statement executions that failed.",
		},
		[]string{"kind"},
	)
	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_dataset_loads_total",
			Help: "Total number of dataset loads by format and status.",
		},
		[]string{"format", "status"},
	)
	datasetRowsLoaded = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_dataset_rows_loaded",
			Help:    "Rows per loaded dataset.",
			Buckets: prometheus.ExponentialBuckets(10, 4, 9),
		},
	)
	providerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_provider_errors_total",
			Help: "Total number of model provider failures.",
		},
		[]string{"provider"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_active_sessions",
			Help: "Current number of live sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		agentRunsTotal,
		agentStepsTotal,
		agentRunDurationSeconds,
		validationRejectionsTotal,
		queryDurationMs,
		queryFailuresTotal,
		datasetLoadsTotal,
		datasetRowsLoaded,
		providerErrorsTotal,
		activeSessions,
	)
}

func ObserveAgentRun(outcome string, elapsed time.Duration) {
	agentRunsTotal.WithLabelValues(outcome).Inc()
	agentRunDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementAgentStep(action string) {
	agentStepsTotal.WithLabelValues(action).Inc()
}

func IncrementValidationRejection(kind string) {
	validationRejectionsTotal.WithLabelValues(kind).Inc()
}

func ObserveQuery(elapsed time.Duration, failureKind string) {
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
	if failureKind != "" {
		queryFailuresTotal.WithLabelValues(failureKind).Inc()
	}
}

func ObserveDatasetLoad(format string, rows int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	datasetLoadsTotal.WithLabelValues(format, status).Inc()
	if err == nil {
		datasetRowsLoaded.Observe(float64(rows))
	}
}

func IncrementProviderError(provider string) {
	providerErrorsTotal.WithLabelValues(provider).Inc()
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
