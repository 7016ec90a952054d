// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
)

// streamChunkTarget is the approximate size in bytes of one content chunk.
// Chunks break at whitespace boundaries so the client never sees a word
// split across events.
const streamChunkTarget = 48

// EventEmitter delivers stream events to the client. The SSE writer in the
// handlers package implements it.
type EventEmitter interface {
	Emit(event datatypes.StreamEvent) error
}

// AnswerAccumulator collects streamed content chunks so the final done event
// can carry the exact byte-for-byte answer. The secure accumulator in the
// handlers package implements it over locked memory.
type AnswerAccumulator interface {
	Write(token string) error
	Finalize() (answer string, hash string, err error)
	Destroy()
}

// ProcessStream runs the agentic pipeline for one query, emitting progress
// events as each stage advances.
//
// # Description
//
// The event sequence on the happy path is:
//
//	thinking
//	agent_step  (retrieval, in_progress then completed)
//	source      (one per distinct source)
//	agent_step  (analysis, in_progress then completed)
//	content     (answer chunks, whitespace-aligned)
//	metadata    (reasoning steps, sources, tools used)
//	done        (full answer, identical to the concatenated chunks)
//
// A pipeline failure emits a single error event and stops. If the client
// disconnects mid-stream the context cancels, emission stops, and the turn
// is NOT recorded in the session store; only a fully delivered answer
// becomes conversation history.
//
// The caller is expected to have run Precheck already; sessionId is the id
// Precheck returned.
func (s *AgenticService) ProcessStream(ctx context.Context, sessionId, query string,
	emitter EventEmitter, acc AnswerAccumulator) error {

	start := time.Now()
	ctx, span := agenticTracer.Start(ctx, "AgenticService.ProcessStream")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionId))

	if err := emitter.Emit(datatypes.StreamEvent{
		Type:    datatypes.StreamEventThinking,
		Message: "Thinking about your question...",
	}); err != nil {
		return err
	}

	sessCtx, err := s.sessionContext(ctx, sessionId)
	if err != nil {
		return s.failStream(span, emitter, err)
	}

	// Retrieval stage.
	if err := emitter.Emit(datatypes.StreamEvent{
		Type:   datatypes.StreamEventAgentStep,
		Agent:  datatypes.AgentRetrieval,
		Step:   "Searching policy documents",
		Status: datatypes.StepStatusInProgress,
	}); err != nil {
		return err
	}

	chunks, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return s.failStream(span, emitter, err)
	}
	span.SetAttributes(attribute.Int("retrieval.num_chunks", len(chunks)))

	if err := emitter.Emit(datatypes.StreamEvent{
		Type:     datatypes.StreamEventAgentStep,
		Agent:    datatypes.AgentRetrieval,
		Step:     "Searching policy documents",
		Status:   datatypes.StepStatusCompleted,
		Response: retrievalStep(len(chunks)),
	}); err != nil {
		return err
	}

	sources := DedupSources(chunks)
	for _, src := range sources {
		if err := emitter.Emit(datatypes.StreamEvent{
			Type:   datatypes.StreamEventSource,
			Source: src,
		}); err != nil {
			return err
		}
	}

	// Analysis stage.
	if err := emitter.Emit(datatypes.StreamEvent{
		Type:   datatypes.StreamEventAgentStep,
		Agent:  datatypes.AgentAnalysis,
		Step:   "Analyzing policy context",
		Status: datatypes.StepStatusInProgress,
	}); err != nil {
		return err
	}

	result, err := s.analyzer.Analyze(ctx, query, chunks, sessCtx)
	if err != nil {
		return s.failStream(span, emitter, err)
	}

	if err := emitter.Emit(datatypes.StreamEvent{
		Type:     datatypes.StreamEventAgentStep,
		Agent:    datatypes.AgentAnalysis,
		Step:     "Analyzing policy context",
		Status:   datatypes.StepStatusCompleted,
		Response: "Analysis complete",
	}); err != nil {
		return err
	}

	// Content stage. Every chunk goes through the accumulator so the done
	// event is provably the concatenation of what the client received.
	firstContent := true
	for _, piece := range chunkAnswer(result.Answer, streamChunkTarget) {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "client disconnected")
			slog.Info("Stream canceled mid-content, discarding turn", "sessionId", sessionId)
			return ctx.Err()
		}
		if err := acc.Write(piece); err != nil {
			return s.failStream(span, emitter, fmt.Errorf("accumulator write failed: %w", err))
		}
		if err := emitter.Emit(datatypes.StreamEvent{
			Type:  datatypes.StreamEventContent,
			Chunk: piece,
		}); err != nil {
			return err
		}
		if firstContent {
			firstContent = false
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstContent(observability.EndpointAgenticStream,
					time.Since(start).Seconds())
			}
		}
	}

	// Metadata trails the content so clients can render the answer before
	// the provenance summary arrives.
	steps := append([]string{retrievalStep(len(chunks))}, result.ReasoningSteps...)
	if err := emitter.Emit(datatypes.StreamEvent{
		Type:           datatypes.StreamEventMetadata,
		ReasoningSteps: steps,
		Sources:        sources,
		ToolsUsed:      result.ToolsUsed,
	}); err != nil {
		return err
	}

	fullAnswer, _, err := acc.Finalize()
	if err != nil {
		return s.failStream(span, emitter, fmt.Errorf("accumulator finalize failed: %w", err))
	}

	if err := emitter.Emit(datatypes.StreamEvent{
		Type:         datatypes.StreamEventDone,
		FullResponse: fullAnswer,
	}); err != nil {
		return err
	}

	// Only a fully delivered answer becomes history.
	if err := s.recordTurn(ctx, sessionId, query, fullAnswer); err != nil {
		span.RecordError(err)
		slog.Error("Failed to record streamed turn", "sessionId", sessionId, "error", err)
		return err
	}
	return nil
}

// failStream reports a pipeline error to the client as an error event and
// returns the original error. An emit failure is logged and swallowed; the
// pipeline error is the one worth surfacing.
func (s *AgenticService) failStream(span trace.Span, emitter EventEmitter, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("Stream pipeline failed", "error", err)
	if emitErr := emitter.Emit(datatypes.StreamEvent{
		Type:    datatypes.StreamEventError,
		Message: err.Error(),
	}); emitErr != nil {
		slog.Warn("Could not deliver error event", "error", emitErr)
	}
	return err
}

// chunkAnswer splits answer into pieces of roughly target bytes, cutting
// only at whitespace boundaries. Concatenating the pieces reproduces the
// answer exactly.
func chunkAnswer(answer string, target int) []string {
	if answer == "" {
		return nil
	}
	if target <= 0 {
		target = streamChunkTarget
	}

	var pieces []string
	runes := []rune(answer)
	start := 0
	size := 0
	for i := 0; i < len(runes); i++ {
		size += len(string(runes[i]))
		atBoundary := unicode.IsSpace(runes[i]) &&
			(i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]))
		if size >= target && atBoundary {
			pieces = append(pieces, string(runes[start:i+1]))
			start = i + 1
			size = 0
		}
	}
	if start < len(runes) {
		pieces = append(pieces, string(runes[start:]))
	}
	return pieces
}
