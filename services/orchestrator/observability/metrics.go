// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the agentic
// query pipeline. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Tool invocation counters (by tool and outcome)
//   - Latency histograms (pipeline stages, time to first content, stream duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for agentic pipeline metrics
const agenticSubsystem = "agentic"

// AgenticMetrics holds all Prometheus metrics for the agentic query pipeline.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// performance and resource usage. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type AgenticMetrics struct {
	// RequestsTotal counts queries by endpoint and status.
	// Labels: endpoint (agentic_query, agentic_stream), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ToolInvocationsTotal counts tool dispatches by tool and outcome.
	// Labels: tool (calculator, step_counter, role_lookup), outcome (success,
	// validation_error, execution_error, skipped)
	ToolInvocationsTotal *prometheus.CounterVec

	// StageDurationSeconds measures each pipeline stage.
	// Labels: stage (retrieval, analysis, session)
	StageDurationSeconds *prometheus.HistogramVec

	// TimeToFirstContentSeconds measures latency to the first content chunk.
	// Labels: endpoint
	TimeToFirstContentSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of AgenticMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AgenticMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *AgenticMetrics {
	DefaultMetrics = &AgenticMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "requests_total",
				Help:      "Total number of agentic queries by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ToolInvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "tool_invocations_total",
				Help:      "Total tool dispatches by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		TimeToFirstContentSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "time_to_first_content_seconds",
				Help:      "Time from request to first content chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "errors_total",
				Help:      "Total pipeline errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agenticSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodePolicyViolation indicates blocked due to policy scan.
	ErrorCodePolicyViolation ErrorCode = "policy_violation"

	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeRetrievalUnavailable indicates the vector store was unreachable.
	ErrorCodeRetrievalUnavailable ErrorCode = "retrieval_unavailable"

	// ErrorCodeAnalysisUnavailable indicates the LLM backend failed after retry.
	ErrorCodeAnalysisUnavailable ErrorCode = "analysis_unavailable"

	// ErrorCodeSessionCorruption indicates a stored session failed invariants.
	ErrorCodeSessionCorruption ErrorCode = "session_corruption"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a pipeline endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointAgenticQuery is the blocking agentic query endpoint.
	EndpointAgenticQuery Endpoint = "agentic_query"

	// EndpointAgenticStream is the streaming agentic query endpoint.
	EndpointAgenticStream Endpoint = "agentic_stream"
)

// =============================================================================
// Tool Outcomes
// =============================================================================

const (
	// ToolOutcomeSuccess labels a tool dispatch that produced a result.
	ToolOutcomeSuccess = "success"

	// ToolOutcomeValidationError labels a dispatch rejected before execution.
	ToolOutcomeValidationError = "validation_error"

	// ToolOutcomeExecutionError labels a dispatch that failed during execution.
	ToolOutcomeExecutionError = "execution_error"

	// ToolOutcomeSkipped labels a repeated call skipped by the once-per-tool rule.
	ToolOutcomeSkipped = "skipped"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed query.
func (m *AgenticMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a pipeline error.
func (m *AgenticMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordToolInvocation records one tool dispatch outcome.
func (m *AgenticMetrics) RecordToolInvocation(tool, outcome string) {
	m.ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordStageDuration records how long a pipeline stage took.
func (m *AgenticMetrics) RecordStageDuration(stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// StreamStarted increments the active streams gauge.
func (m *AgenticMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *AgenticMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstContent records the latency to the first content chunk.
func (m *AgenticMetrics) RecordTimeToFirstContent(endpoint Endpoint, seconds float64) {
	m.TimeToFirstContentSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *AgenticMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *AgenticMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *AgenticMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
