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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
)

// heartbeatInterval is the interval for sending keepalive pings.
// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
const heartbeatInterval = 15 * time.Second

// HandleAgenticQueryStream processes an agentic query with SSE streaming.
//
// # Description
//
// Handles POST /agentic/query/streaming. The flow is:
//  1. Parse request body
//  2. Run Precheck (validation, policy scan, session id assignment)
//  3. Set SSE headers and create writer plus accumulator
//  4. Start heartbeat goroutine
//  5. Run the pipeline via ProcessStream, emitting progress events
//
// Precheck runs before any SSE bytes go out, so malformed requests and
// policy violations still produce plain HTTP status codes. Once streaming
// starts, failures arrive as error events on the stream.
//
// # Outputs
//
// SSE stream of data frames, each a JSON StreamEvent:
//   - thinking, agent_step, source, metadata, content, done
//   - error (terminal, on pipeline failure)
//
// HTTP Status (before streaming starts):
//   - 400 Bad Request: Invalid body or validation failure
//   - 403 Forbidden: Policy violation (findings included in body)
//   - 500 Internal Server Error: SSE or accumulator setup failure
func (h *AgenticHandler) HandleAgenticQueryStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointAgenticStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAgenticQueryStream")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Parse request body.
	var req datatypes.AgenticQueryRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse streaming agentic request", "error", err)
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Step 2: Precheck before committing to SSE. Violations and validation
	// failures here can still use plain HTTP status codes.
	sessionId, err := h.service.Precheck(ctx, &req)
	if err != nil {
		h.writeQueryError(c, span, endpoint, err)
		return
	}
	span.SetAttributes(attribute.String("session.id", sessionId))

	// Step 3: Set SSE headers and create writer.
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err, "sessionId", sessionId)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 3.5: Accumulator for the answer. Content chunks pass through
	// locked memory so the done event provably matches what was sent.
	accumulator, accErr := NewSecureTokenAccumulator()
	if accErr != nil {
		span.RecordError(accErr)
		span.SetStatus(codes.Error, "accumulator setup failed")
		slog.Error("Failed to create token accumulator", "error", accErr, "sessionId", sessionId)
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer accumulator.Destroy()

	// Step 4: Track active stream and start the heartbeat.
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	heartbeatDone := make(chan struct{})
	go runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 5: Run the pipeline. Failures past this point arrive as error
	// events on the stream, not HTTP status codes.
	streamErr := h.service.ProcessStream(ctx, sessionId, req.Query, sseWriter, accumulator)
	close(heartbeatDone)

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "stream pipeline failed")
		if errors.Is(streamErr, context.Canceled) {
			slog.Info("Client disconnected mid-stream", "sessionId", sessionId)
			recordError(endpoint, observability.ErrorCodeClientDisconnect)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
			}
		} else {
			slog.Error("Streaming agentic pipeline failed",
				"error", streamErr, "sessionId", sessionId)
			recordError(endpoint, streamErrorCode(streamErr))
		}
		return
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// runHeartbeat sends keepalive pings until done closes or the context ends.
func runHeartbeat(ctx context.Context, w SSEWriter,
	endpoint observability.Endpoint, done <-chan struct{}) {

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteKeepAlive(); err != nil {
				slog.Debug("Keepalive write failed, client likely gone", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// streamErrorCode categorizes a mid-stream pipeline error for metrics.
func streamErrorCode(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return observability.ErrorCodeTimeout
	default:
		return pipelineErrorCode(err)
	}
}
