// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/analysis"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/retrieval"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/sessions"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/services"
)

// =============================================================================
// Struct Definition
// =============================================================================

// AgenticHandler exposes the agentic query pipeline over HTTP.
//
// # Description
//
// AgenticHandler owns the transport concerns of the pipeline: request
// binding, error-to-status mapping, and metrics. All business logic lives
// in services.AgenticService.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
type AgenticHandler struct {
	service *services.AgenticService
	tracer  trace.Tracer
}

// NewAgenticHandler creates an AgenticHandler.
// Panics if service is nil (programming error).
func NewAgenticHandler(service *services.AgenticService) *AgenticHandler {
	if service == nil {
		panic("NewAgenticHandler: service must not be nil")
	}
	return &AgenticHandler{
		service: service,
		tracer:  otel.Tracer("aleutian.orchestrator.handlers.agentic"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleAgenticQuery processes a blocking agentic query.
//
// # Description
//
// Handles POST /agentic/query. The full pipeline runs to completion and the
// aggregate response is returned as a single JSON document.
//
// # Outputs
//
// HTTP Status:
//   - 200 OK: Pipeline completed, body is datatypes.AgentResponse
//   - 400 Bad Request: Invalid body or validation failure
//   - 403 Forbidden: Policy violation (findings included in body)
//   - 500 Internal Server Error: Session corruption or unexpected failure
//   - 502 Bad Gateway: Retrieval or analysis backend unavailable
func (h *AgenticHandler) HandleAgenticQuery(c *gin.Context) {
	endpoint := observability.EndpointAgenticQuery
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAgenticQuery")
	defer span.End()

	start := time.Now()
	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStageDuration("request", time.Since(start).Seconds())
		}
	}()

	var req datatypes.AgenticQueryRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse agentic query request", "error", err)
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	span.SetAttributes(attribute.String("request.session_id", req.SessionId))

	resp, err := h.service.Process(ctx, &req)
	if err != nil {
		h.writeQueryError(c, span, endpoint, err)
		return
	}

	success = true
	span.SetStatus(codes.Ok, "query completed")
	c.JSON(http.StatusOK, resp)
}

// writeQueryError maps a pipeline error to an HTTP status and JSON body.
func (h *AgenticHandler) writeQueryError(c *gin.Context, span trace.Span,
	endpoint observability.Endpoint, err error) {

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case services.IsPolicyViolation(err):
		slog.Warn("Blocked agentic query: input contains sensitive data",
			"findings", len(services.GetPolicyFindings(err)))
		recordError(endpoint, observability.ErrorCodePolicyViolation)
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "Policy Violation: Query contains sensitive data.",
			"findings": services.GetPolicyFindings(err),
		})

	case isValidationError(err):
		slog.Warn("Agentic query validation failed", "error", err)
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})

	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		slog.Error("Retrieval backend unavailable", "error", err)
		recordError(endpoint, observability.ErrorCodeRetrievalUnavailable)
		c.JSON(http.StatusBadGateway, gin.H{"error": "knowledge retrieval is unavailable"})

	case errors.Is(err, analysis.ErrAnalysisUnavailable):
		slog.Error("Analysis backend unavailable", "error", err)
		recordError(endpoint, observability.ErrorCodeAnalysisUnavailable)
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis is unavailable"})

	case errors.Is(err, sessions.ErrSessionCorruption):
		slog.Error("Session store returned corrupt state", "error", err)
		recordError(endpoint, observability.ErrorCodeSessionCorruption)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session state is corrupt"})

	default:
		slog.Error("Agentic query failed", "error", err)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// isValidationError reports whether err came from request validation.
// The service wraps validator errors with a "validation failed" prefix.
func isValidationError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "validation failed")
}

// pipelineErrorCode categorizes a pipeline error for metrics.
func pipelineErrorCode(err error) observability.ErrorCode {
	switch {
	case services.IsPolicyViolation(err):
		return observability.ErrorCodePolicyViolation
	case isValidationError(err):
		return observability.ErrorCodeValidation
	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		return observability.ErrorCodeRetrievalUnavailable
	case errors.Is(err, analysis.ErrAnalysisUnavailable):
		return observability.ErrorCodeAnalysisUnavailable
	case errors.Is(err, sessions.ErrSessionCorruption):
		return observability.ErrorCodeSessionCorruption
	default:
		return observability.ErrorCodeInternal
	}
}

// recordError records a categorized error if metrics are initialized.
func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}
