// Package metrics provides Prometheus metrics for meeting runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives pipeline measurements.
type Recorder interface {
	RecordRun(status, mode string, latency time.Duration)
	RecordLLMCall(model string, latency time.Duration, promptTokens, completionTokens int)
	RecordGatewayCall(tool, outcome string, latency time.Duration)
	RecordOutcome(source string)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordRun(string, string, time.Duration) {}
func (Nop) RecordLLMCall(string, time.Duration, int, int) {}
func (Nop) RecordGatewayCall(string, string, time.Duration) {}
func (Nop) RecordOutcome(string) {}

// PrometheusExporter exports meetflow metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Run metrics
	runs       *prometheus.CounterVec
	runLatency *prometheus.HistogramVec

	// LLM metrics
	llmLatency *prometheus.HistogramVec
	llmTokens  *prometheus.CounterVec

	// Gateway metrics
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec

	// Ticket outcome metrics
	outcomes *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetflow",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of processed meetings",
		},
		[]string{"status", "mode"},
	)

	e.runLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meetflow",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end meeting processing latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meetflow",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetflow",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetflow",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Total number of gateway tool calls",
		},
		[]string{"tool", "outcome"},
	)

	e.gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meetflow",
			Subsystem: "gateway",
			Name:      "latency_seconds",
			Help:      "Gateway tool call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool"},
	)

	e.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetflow",
			Subsystem: "pipeline",
			Name:      "issue_outcomes_total",
			Help:      "Issues dispatched, by how their ticket key was obtained",
		},
		[]string{"source"},
	)

	registry.MustRegister(
		e.runs,
		e.runLatency,
		e.llmLatency,
		e.llmTokens,
		e.gatewayCalls,
		e.gatewayLatency,
		e.outcomes,
	)

	return e
}

// RecordRun records a finished meeting run.
func (e *PrometheusExporter) RecordRun(status, mode string, latency time.Duration) {
	e.runs.WithLabelValues(status, mode).Inc()
	e.runLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// RecordLLMCall records latency and token usage of one LLM call.
func (e *PrometheusExporter) RecordLLMCall(model string, latency time.Duration, promptTokens, completionTokens int) {
	e.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
	e.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordGatewayCall records one gateway tool call.
func (e *PrometheusExporter) RecordGatewayCall(tool, outcome string, latency time.Duration) {
	e.gatewayCalls.WithLabelValues(tool, outcome).Inc()
	e.gatewayLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordOutcome records how an issue's ticket key was obtained.
func (e *PrometheusExporter) RecordOutcome(source string) {
	e.outcomes.WithLabelValues(source).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
