// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating the agentic pipeline (retrieval, analysis, session updates)
//   - Applying business rules and validation
//   - Managing error categorization for the transport layer
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/analysis"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/retrieval"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/sessions"
	"github.com/AleutianAI/PolicyAssistant/services/policy_engine"
)

// agenticTracer is the OpenTelemetry tracer for AgenticService operations.
var agenticTracer = otel.Tracer("aleutian.orchestrator.services.agentic")

// QueryAnalyzer abstracts the analysis stage so tests can script outcomes.
type QueryAnalyzer interface {
	Analyze(ctx context.Context, query string, chunks []datatypes.RetrievedChunk,
		sessCtx datatypes.SessionContext) (*analysis.Result, error)
}

// =============================================================================
// AgenticService
// =============================================================================

// AgenticService coordinates the multi-agent query pipeline. It orchestrates
// the flow between:
//   - Policy engine: Scans user input for sensitive data
//   - Retrieval stage: Hybrid search over the policy corpus in Weaviate
//   - Analysis stage: Tool-assisted LLM reasoning over the retrieved chunks
//   - Session store: Bounded conversation history and remembered user facts
//
// The service itself is stateless; all conversation state lives in the
// session store. This allows horizontal scaling of the orchestrator.
//
// Usage:
//
//	service := NewAgenticService(retriever, analyzer, store, policyEngine)
//	resp, err := service.Process(ctx, &req)
type AgenticService struct {
	retriever    retrieval.Retriever
	analyzer     QueryAnalyzer
	store        sessions.Store
	policyEngine *policy_engine.PolicyEngine
}

// NewAgenticService creates an AgenticService with the provided dependencies.
// All of retriever, analyzer, and store must be non-nil; policyEngine may be
// nil, which disables input scanning.
func NewAgenticService(
	retriever retrieval.Retriever,
	analyzer QueryAnalyzer,
	store sessions.Store,
	policyEngine *policy_engine.PolicyEngine,
) *AgenticService {
	return &AgenticService{
		retriever:    retriever,
		analyzer:     analyzer,
		store:        store,
		policyEngine: policyEngine,
	}
}

// Precheck validates the request, scans it against the policy engine, and
// assigns a session id if the client did not send one.
//
// Returns the effective session id. Handlers call this before committing to
// a response mode (JSON or SSE) so policy violations and malformed requests
// can still produce plain HTTP status codes.
func (s *AgenticService) Precheck(ctx context.Context, req *datatypes.AgenticQueryRequest) (string, error) {
	_, span := agenticTracer.Start(ctx, "AgenticService.Precheck")
	defer span.End()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return "", fmt.Errorf("validation failed: %w", err)
	}

	if findings := s.ScanPolicy(req.Query); len(findings) > 0 {
		span.SetStatus(codes.Error, "policy violation")
		span.SetAttributes(attribute.Int("policy.findings", len(findings)))
		return "", &PolicyViolationError{Findings: findings}
	}

	sessionId := req.EnsureSessionId()
	span.SetAttributes(attribute.String("session.id", sessionId))
	return sessionId, nil
}

// Process handles an agentic query end-to-end and returns the final answer.
//
// The processing flow is:
//  1. Validate and policy-scan the request, assign a session id
//  2. Load the session snapshot (bounded history plus preferences)
//  3. Retrieve policy chunks for the query
//  4. Run the analysis stage with tool dispatch
//  5. Record the turn and any extracted user facts in the session store
//  6. Build and return the response
//
// Errors are categorized for the handler:
//   - *PolicyViolationError: input contains sensitive data (403)
//   - retrieval.ErrRetrievalUnavailable: vector store down (502)
//   - analysis.ErrAnalysisUnavailable: LLM backend down after retry (502)
//   - sessions.ErrSessionCorruption: stored session failed invariants (500)
func (s *AgenticService) Process(ctx context.Context, req *datatypes.AgenticQueryRequest) (*datatypes.AgentResponse, error) {
	ctx, span := agenticTracer.Start(ctx, "AgenticService.Process")
	defer span.End()

	sessionId, err := s.Precheck(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("Processing agentic query", "sessionId", sessionId)

	sessCtx, err := s.sessionContext(ctx, sessionId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session load failed")
		return nil, err
	}

	chunks, err := s.retriever.Retrieve(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.num_chunks", len(chunks)))

	result, err := s.analyzer.Analyze(ctx, req.Query, chunks, sessCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}

	steps := append([]string{retrievalStep(len(chunks))}, result.ReasoningSteps...)
	sources := DedupSources(chunks)

	if err := s.recordTurn(ctx, sessionId, req.Query, result.Answer); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session update failed")
		return nil, err
	}

	resp := datatypes.NewAgentResponse(sessionId, result.Answer, sources, result.ToolsUsed, steps)
	span.SetAttributes(
		attribute.String("response.id", resp.Id),
		attribute.Int("response.sources_count", len(resp.Sources)),
		attribute.Int("response.tools_count", len(resp.ToolsUsed)),
	)
	return resp, nil
}

// ScanPolicy scans the provided content against the policy engine's rules.
//
// Returns a slice of policy findings. An empty slice indicates no violations.
// A nil policy engine results in an empty findings slice (fail open for
// availability).
func (s *AgenticService) ScanPolicy(content string) []policy_engine.ScanFinding {
	if s.policyEngine == nil {
		return nil
	}
	return s.policyEngine.ScanFileContent(content)
}

// =============================================================================
// Private Methods
// =============================================================================

func (s *AgenticService) sessionContext(ctx context.Context, sessionId string) (datatypes.SessionContext, error) {
	snapshot, err := s.store.GetOrCreate(ctx, sessionId)
	if err != nil {
		return datatypes.SessionContext{}, err
	}
	return snapshot.Context(), nil
}

// recordTurn persists the completed exchange plus any user facts mentioned
// in the query.
func (s *AgenticService) recordTurn(ctx context.Context, sessionId, query, answer string) error {
	prefs := sessions.ExtractPreferences(query)
	turn := datatypes.ConversationTurn{
		Query:  query,
		Answer: answer,
	}
	return s.store.AppendTurn(ctx, sessionId, turn, prefs)
}

func retrievalStep(n int) string {
	if n == 0 {
		return "Retrieved no matching policy chunks"
	}
	return fmt.Sprintf("Retrieved %d relevant policy chunks", n)
}

// DedupSources returns the distinct chunk sources in retrieval order.
func DedupSources(chunks []datatypes.RetrievedChunk) []string {
	seen := map[string]bool{}
	sources := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Source == "" || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		sources = append(sources, c.Source)
	}
	return sources
}

// =============================================================================
// Error Types
// =============================================================================

// PolicyViolationError is returned when user input violates data classification
// policies. This error should result in an HTTP 403 Forbidden response.
type PolicyViolationError struct {
	Findings []policy_engine.ScanFinding
}

// Error implements the error interface for PolicyViolationError.
func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %d findings", len(e.Findings))
}

// IsPolicyViolation checks if an error is a PolicyViolationError.
// This is useful for handlers to determine the appropriate HTTP status code.
//
// Example:
//
//	resp, err := service.Process(ctx, req)
//	if err != nil {
//	    if services.IsPolicyViolation(err) {
//	        c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
//	        return
//	    }
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
//	}
func IsPolicyViolation(err error) bool {
	_, ok := err.(*PolicyViolationError)
	return ok
}

// GetPolicyFindings extracts policy findings from a PolicyViolationError.
// Returns nil if the error is not a PolicyViolationError.
func GetPolicyFindings(err error) []policy_engine.ScanFinding {
	if pve, ok := err.(*PolicyViolationError); ok {
		return pve.Findings
	}
	return nil
}
