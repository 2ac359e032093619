// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// GenerationDuration tracks reply generation latency by outcome.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_generation_duration_seconds",
			Help:    "Reply generation duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "outcome"},
	)

	// GenerationsTotal counts generation attempts by outcome.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_generations_total",
			Help: "Reply generation attempts",
		},
		[]string{"provider", "outcome"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// CrisisDetectionsTotal counts messages routed to the crisis script.
	CrisisDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_crisis_detections_total",
			Help: "Messages answered with the crisis script",
		},
		[]string{"phrase"},
	)

	// TurnsTotal tracks persisted turns.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Conversation turns persisted",
		},
		[]string{"origin"},
	)

	// PersistenceErrorsTotal tracks store failures by operation.
	PersistenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_persistence_errors_total",
			Help: "Conversation store failures",
		},
		[]string{"op"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGeneration records one generation attempt.
func RecordGeneration(provider, outcome string, duration float64) {
	GenerationDuration.WithLabelValues(provider, outcome).Observe(duration)
	GenerationsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordTokens records token usage reported by the provider.
func RecordTokens(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
