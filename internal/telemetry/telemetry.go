// Package telemetry provides Prometheus metrics for the generation pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for ContentForge
type Metrics struct {
	// Generation metrics
	GenerationsTotal    *prometheus.CounterVec
	GenerationDuration  *prometheus.HistogramVec
	GenerationsInFlight prometheus.Gauge

	// Token metrics
	TokensInput  *prometheus.CounterVec
	TokensOutput *prometheus.CounterVec

	// Cost metrics
	CostUSD *prometheus.CounterVec

	// Provider metrics
	ProviderErrors      *prometheus.CounterVec
	FallbackInvocations *prometheus.CounterVec
	SelectionFailures   *prometheus.CounterVec

	// Streaming metrics
	StreamConnections prometheus.Gauge

	// Tree metrics
	NodesCreated *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_generations_total",
				Help: "Total number of generation requests",
			},
			[]string{"task", "provider", "model", "status"},
		),

		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentforge_generation_duration_seconds",
				Help:    "Generation duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"task", "provider"},
		),

		GenerationsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "contentforge_generations_in_flight",
				Help: "Number of generations currently being processed",
			},
		),

		TokensInput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_tokens_input_total",
				Help: "Total input tokens processed",
			},
			[]string{"provider", "model"},
		),

		TokensOutput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_tokens_output_total",
				Help: "Total output tokens generated",
			},
			[]string{"provider", "model"},
		),

		CostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_cost_usd_total",
				Help: "Total generation cost in USD",
			},
			[]string{"provider", "model"},
		),

		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_provider_errors_total",
				Help: "Total errors per provider",
			},
			[]string{"provider", "error_type"},
		),

		FallbackInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_fallback_invocations_total",
				Help: "Total fallback attempts after a provider failure",
			},
			[]string{"task", "failed_provider"},
		),

		SelectionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_selection_failures_total",
				Help: "Total requests with no provider available",
			},
			[]string{"task"},
		),

		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "contentforge_stream_connections",
				Help: "Number of active streaming connections",
			},
		),

		NodesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentforge_nodes_created_total",
				Help: "Total generation nodes created",
			},
			[]string{"task", "status"},
		),
	}
}

// Handler returns an HTTP handler for Prometheus metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// GenerationRecorder tracks one generation from start to outcome
type GenerationRecorder struct {
	metrics   *Metrics
	task      string
	startTime time.Time
}

// NewGenerationRecorder creates a recorder and marks the generation in flight
func (m *Metrics) NewGenerationRecorder(task string) *GenerationRecorder {
	m.GenerationsInFlight.Inc()
	return &GenerationRecorder{
		metrics:   m,
		task:      task,
		startTime: time.Now(),
	}
}

// RecordSuccess records a completed generation
func (r *GenerationRecorder) RecordSuccess(provider, model string, tokensIn, tokensOut int, costUSD float64) {
	duration := time.Since(r.startTime).Seconds()

	r.metrics.GenerationsInFlight.Dec()
	r.metrics.GenerationsTotal.WithLabelValues(r.task, provider, model, "success").Inc()
	r.metrics.GenerationDuration.WithLabelValues(r.task, provider).Observe(duration)

	r.metrics.TokensInput.WithLabelValues(provider, model).Add(float64(tokensIn))
	r.metrics.TokensOutput.WithLabelValues(provider, model).Add(float64(tokensOut))
	r.metrics.CostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordFailure records a terminally failed generation
func (r *GenerationRecorder) RecordFailure(provider, model, errorType string) {
	duration := time.Since(r.startTime).Seconds()

	r.metrics.GenerationsInFlight.Dec()
	r.metrics.GenerationsTotal.WithLabelValues(r.task, provider, model, "error").Inc()
	r.metrics.GenerationDuration.WithLabelValues(r.task, provider).Observe(duration)
	r.metrics.ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordFallback records one failed attempt that triggered the next candidate
func (m *Metrics) RecordFallback(task, failedProvider string) {
	m.FallbackInvocations.WithLabelValues(task, failedProvider).Inc()
}

// RecordSelectionFailure records a request no provider could serve
func (m *Metrics) RecordSelectionFailure(task string) {
	m.SelectionFailures.WithLabelValues(task).Inc()
}

// RecordNodeCreated records a persisted generation node
func (m *Metrics) RecordNodeCreated(task, status string) {
	m.NodesCreated.WithLabelValues(task, status).Inc()
}
