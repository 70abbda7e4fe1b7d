package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus
// metrics registered on the default registry.
type PrometheusRecorder struct {
	requestsTotal      *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	costsTotal         *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
// Call it once per process; promauto panics on duplicate registration.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careflow_llm_requests_total",
				Help: "Total number of LLM requests by model, tenant, stage, and status",
			},
			[]string{"model", "tenant", "stage", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careflow_llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "tenant", "stage", "type"},
		),
		costsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careflow_llm_costs_total",
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "tenant", "stage"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careflow_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "tenant", "stage"},
		),
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careflow_stage_duration_seconds",
				Help:    "Duration of workflow stage executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "outcome"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careflow_breaker_transitions_total",
				Help: "Circuit breaker state transitions by dependency",
			},
			[]string{"dependency", "from", "to"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, tenant, stage string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, tenant, stage, status, errorType).Inc()

	// Tokens and costs only accrue on success.
	if success {
		p.tokensTotal.WithLabelValues(model, tenant, stage, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, tenant, stage, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, tenant, stage).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, tenant, stage).Observe(duration.Seconds())
}

// ObserveStage records one workflow stage execution.
func (p *PrometheusRecorder) ObserveStage(stage, outcome string, duration time.Duration) {
	p.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// IncBreakerTransition counts one circuit breaker state transition.
func (p *PrometheusRecorder) IncBreakerTransition(dependency, from, to string) {
	p.breakerTransitions.WithLabelValues(dependency, from, to).Inc()
}
