package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting request-path metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Request outcomes and end-to-end latency
//   - Context source fetches and assembled context size
//   - Enhancer failures isolated by the chain
//   - Tool executions and tool chain outcomes
//   - Event log appends and append retries
//   - LLM inference latency and token usage
//
// A nil *Metrics is valid and records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordRequest("success", time.Since(start).Seconds())
type Metrics struct {
	// RequestCounter counts processed requests.
	// Labels: status (success|partial|invalid|error)
	RequestCounter *prometheus.CounterVec

	// RequestDuration measures end-to-end request latency in seconds.
	// Labels: status
	RequestDuration *prometheus.HistogramVec

	// SourceFetchCounter counts context source fetches.
	// Labels: source, status (success|error|empty)
	SourceFetchCounter *prometheus.CounterVec

	// SourceFetchDuration measures context source latency in seconds.
	// Labels: source
	SourceFetchDuration *prometheus.HistogramVec

	// ContextTokens observes the token count of assembled contexts.
	ContextTokens prometheus.Histogram

	// EnhancerFailures counts enhancer steps skipped because they failed.
	// Labels: kind (context|tool|event), enhancer
	EnhancerFailures *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolChainCounter counts tool chain runs by terminal status.
	// Labels: status (completed|partially_failed|aborted)
	ToolChainCounter *prometheus.CounterVec

	// EventsAppended counts events written to the session log.
	// Labels: type
	EventsAppended *prometheus.CounterVec

	// AppendRetries counts appends retried after a sequence conflict.
	AppendRetries prometheus.Counter

	// LLMRequestDuration measures inference latency in seconds.
	// Labels: model, status
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil registers with Prometheus's default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_requests_total",
				Help: "Total number of requests processed by status",
			},
			[]string{"status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_request_duration_seconds",
				Help:    "Duration of request processing in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		SourceFetchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_context_source_fetches_total",
				Help: "Total number of context source fetches by source and status",
			},
			[]string{"source", "status"},
		),

		SourceFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_context_source_duration_seconds",
				Help:    "Duration of context source fetches in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"source"},
		),

		ContextTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nexuscore_context_tokens",
				Help:    "Estimated token count of assembled contexts",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
		),

		EnhancerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_enhancer_failures_total",
				Help: "Total number of enhancer steps skipped after a failure",
			},
			[]string{"kind", "enhancer"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ToolChainCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_tool_chains_total",
				Help: "Total number of tool chain runs by terminal status",
			},
			[]string{"status"},
		),

		EventsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_events_appended_total",
				Help: "Total number of session events appended by type",
			},
			[]string{"type"},
		),

		AppendRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nexuscore_event_append_retries_total",
				Help: "Total number of event appends retried after a sequence conflict",
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_llm_request_duration_seconds",
				Help:    "Duration of LLM inference requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_llm_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),
	}
}

// RecordRequest records the outcome and latency of one request.
//
// Example:
//
//	start := time.Now()
//	// ... handle request ...
//	metrics.RecordRequest("success", time.Since(start).Seconds())
func (m *Metrics) RecordRequest(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(status).Inc()
	m.RequestDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordSourceFetch records one context source fetch.
func (m *Metrics) RecordSourceFetch(source, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceFetchCounter.WithLabelValues(source, status).Inc()
	m.SourceFetchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// ObserveContextTokens records the size of an assembled context.
func (m *Metrics) ObserveContextTokens(tokens int) {
	if m == nil {
		return
	}
	m.ContextTokens.Observe(float64(tokens))
}

// RecordEnhancerFailure increments the failure counter for an enhancer.
func (m *Metrics) RecordEnhancerFailure(kind, enhancer string) {
	if m == nil {
		return
	}
	m.EnhancerFailures.WithLabelValues(kind, enhancer).Inc()
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordToolChain records the terminal status of a chain run.
func (m *Metrics) RecordToolChain(status string) {
	if m == nil {
		return
	}
	m.ToolChainCounter.WithLabelValues(status).Inc()
}

// RecordEventAppended increments the appended-events counter.
func (m *Metrics) RecordEventAppended(eventType string) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(eventType).Inc()
}

// RecordAppendRetry increments the append retry counter.
func (m *Metrics) RecordAppendRetry() {
	if m == nil {
		return
	}
	m.AppendRetries.Inc()
}

// RecordLLMRequest records metrics for an inference call.
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(model, status).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}
