// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the request and response types for the agentic query
// endpoints (POST /agentic/query and POST /agentic/query/streaming).
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single user query.
	// Byte length is checked (not rune count) to bound memory usage.
	MaxQueryBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// agenticValidate is the validator instance for agentic datatypes.
// Initialized in init() with custom validators.
var agenticValidate *validator.Validate

func init() {
	agenticValidate = validator.New()
	_ = agenticValidate.RegisterValidation("maxbytes", validateQueryMaxBytes)
}

// validateQueryMaxBytes validates that a string field does not exceed MaxQueryBytes.
func validateQueryMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxQueryBytes
}

// =============================================================================
// Agentic Query Request
// =============================================================================

// AgenticQueryRequest represents an agentic pipeline query.
//
// # Description
//
// AgenticQueryRequest carries a natural-language question about policy
// documents plus an optional session identifier for multi-turn context.
// When SessionId is omitted the server generates one, and the response
// echoes it back so the client can continue the conversation.
//
// Session identifiers are caller-supplied and unauthenticated. Anyone who
// knows an id can read and extend that session's context; deploy behind
// an authenticating proxy if that matters.
//
// # Fields
//
//   - Query: Required. The user's question. Limited to 32KB.
//   - SessionId: Optional. Identifier for multi-turn conversation context.
//
// # Validation
//
//   - Query: required, max 32768 bytes
type AgenticQueryRequest struct {
	Query     string `json:"query" validate:"required,maxbytes"`
	SessionId string `json:"session_id"`
}

// Validate validates the AgenticQueryRequest fields.
func (r *AgenticQueryRequest) Validate() error {
	return agenticValidate.Struct(r)
}

// EnsureSessionId generates a session id if the client did not supply one.
// Returns the effective session id.
func (r *AgenticQueryRequest) EnsureSessionId() string {
	if r.SessionId == "" {
		r.SessionId = "sess_" + generateUUID()
	}
	return r.SessionId
}

// =============================================================================
// Agent Response
// =============================================================================

// AgentResponse is the aggregate result of one agentic query.
//
// # Description
//
// AgentResponse is what the blocking endpoint returns and what the
// streaming endpoint's metadata/done events are derived from. Every
// response includes a unique ID and timestamp for audit trails.
//
// # Fields
//
//   - Id: Unique identifier for this response (UUID v4), generated server-side.
//   - SessionId: Echo of the (possibly generated) session id.
//   - Timestamp: Unix timestamp in milliseconds (UTC).
//   - Answer: The synthesized answer, markdown formatted.
//   - Sources: Deduplicated source identifiers in retrieval-rank order.
//   - ToolsUsed: Names of tools the analysis stage attempted, in invocation order.
//   - ReasoningSteps: Ordered trace of pipeline decisions.
type AgentResponse struct {
	Id             string   `json:"id"`
	SessionId      string   `json:"session_id"`
	Timestamp      int64    `json:"timestamp"`
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources"`
	ToolsUsed      []string `json:"tools_used"`
	ReasoningSteps []string `json:"reasoning_steps"`
}

// NewAgentResponse creates an AgentResponse with auto-generated ID and timestamp.
//
// Nil slices are normalized to empty so the JSON always carries arrays.
func NewAgentResponse(sessionId, answer string, sources, toolsUsed, reasoningSteps []string) *AgentResponse {
	if sources == nil {
		sources = []string{}
	}
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	if reasoningSteps == nil {
		reasoningSteps = []string{}
	}
	return &AgentResponse{
		Id:             generateUUID(),
		SessionId:      sessionId,
		Timestamp:      time.Now().UnixMilli(),
		Answer:         answer,
		Sources:        sources,
		ToolsUsed:      toolsUsed,
		ReasoningSteps: reasoningSteps,
	}
}

// generateUUID returns a new UUID v4 string.
func generateUUID() string {
	return uuid.New().String()
}
