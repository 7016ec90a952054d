// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis implements the reasoning stage of the agentic pipeline.
//
// The analyzer hands the model the retrieved policy excerpts plus the tool
// catalog, executes whatever tool calls come back (at most once per tool
// for a given query), folds the results into a follow-up completion, and
// returns the synthesized answer with a trace of reasoning steps.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/PolicyAssistant/services/llm"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/tools"
)

var tracer = otel.Tracer("aleutian.orchestrator.analysis")

// ErrAnalysisUnavailable indicates the LLM backend failed after the retry.
var ErrAnalysisUnavailable = errors.New("analysis unavailable")

const llmRetryDelay = 500 * time.Millisecond

// Result is the outcome of one analysis pass.
type Result struct {
	Answer         string
	ReasoningSteps []string
	ToolsUsed      []string
}

// toolOutcome records one executed tool call for the follow-up completion.
type toolOutcome struct {
	Name      string
	Arguments map[string]any
	Result    map[string]any
}

// Analyzer drives the tool-assisted reasoning loop.
//
// # Thread Safety
//
// Safe for concurrent use as long as the underlying LLMClient is.
type Analyzer struct {
	llm      llm.LLMClient
	registry *tools.Registry
	params   llm.GenerationParams
}

func NewAnalyzer(client llm.LLMClient, registry *tools.Registry) *Analyzer {
	temp := float32(0.2)
	return &Analyzer{
		llm:      client,
		registry: registry,
		params:   llm.GenerationParams{Temperature: &temp},
	}
}

// ToolDefinitions converts the registry's parameter specs into the JSON
// schema shape the LLM backends expect.
func ToolDefinitions(registry *tools.Registry) []llm.ToolDefinition {
	names := registry.Names()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, err := registry.Get(name)
		if err != nil {
			continue
		}
		properties := map[string]any{}
		var required []string
		for _, p := range tool.Parameters() {
			properties[p.Name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		params := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			params["required"] = required
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  params,
		})
	}
	return defs
}

// Analyze runs the reasoning loop for one query.
//
// # Description
//
// The first completion exposes the tool catalog. Each requested tool call
// is dispatched through the registry; a tool already invoked for this
// query is skipped, and validation or execution failures are recorded as
// reasoning steps without aborting the pass. When any tool produced a
// result, a second completion folds the outputs into the final answer.
//
// Each LLM call gets one retry. If both attempts fail the pass returns
// ErrAnalysisUnavailable.
func (a *Analyzer) Analyze(ctx context.Context, query string,
	chunks []datatypes.RetrievedChunk, sessCtx datatypes.SessionContext) (*Result, error) {

	ctx, span := tracer.Start(ctx, "Analyzer.Analyze")
	defer span.End()
	span.SetAttributes(attribute.Int("analysis.num_chunks", len(chunks)))

	messages := BuildMessages(query, chunks, sessCtx)
	defs := ToolDefinitions(a.registry)

	first, err := a.chatWithToolsRetry(ctx, messages, defs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}

	result := &Result{
		ReasoningSteps: []string{},
		ToolsUsed:      []string{},
	}

	outcomes := a.dispatchToolCalls(ctx, first.ToolCalls, result)
	if len(outcomes) == 0 {
		result.Answer = first.Content
		if result.Answer != "" {
			result.ReasoningSteps = append(result.ReasoningSteps,
				"Synthesized answer from policy context")
		}
		span.SetAttributes(attribute.Int("analysis.num_tools", 0))
		return result, nil
	}

	followUp := append(messages,
		datatypes.Message{Role: "assistant", Content: describeToolPlan(outcomes, first.Content)},
		datatypes.Message{Role: "user", Content: foldToolResults(outcomes)},
	)
	answer, err := a.chatRetry(ctx, followUp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}

	result.Answer = answer
	result.ReasoningSteps = append(result.ReasoningSteps,
		"Synthesized answer from policy context and tool results")
	span.SetAttributes(attribute.Int("analysis.num_tools", len(result.ToolsUsed)))
	return result, nil
}

// dispatchToolCalls runs the model's requested calls through the registry,
// enforcing the once-per-tool rule and downgrading failures to reasoning
// steps. ToolsUsed records every registered tool that was dispatched,
// failed or not; names the registry does not know never appear there.
func (a *Analyzer) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall,
	result *Result) []toolOutcome {

	invoked := map[string]bool{}
	var outcomes []toolOutcome
	for _, call := range calls {
		if invoked[call.Name] {
			slog.Debug("Skipping repeated tool call", "tool", call.Name)
			result.ReasoningSteps = append(result.ReasoningSteps,
				fmt.Sprintf("Skipped repeated call to %s", call.Name))
			recordToolInvocation(call.Name, observability.ToolOutcomeSkipped)
			continue
		}
		invoked[call.Name] = true

		out, err := a.registry.Dispatch(ctx, call.Name, call.Arguments)
		if err != nil {
			slog.Warn("Tool call failed", "tool", call.Name, "error", err)
			result.ReasoningSteps = append(result.ReasoningSteps,
				fmt.Sprintf("Tool %s failed: %v", call.Name, err))
			// A failed invocation still counts as used; only names outside
			// the registry stay out of the list.
			if !errors.Is(err, tools.ErrUnknownTool) {
				result.ToolsUsed = append(result.ToolsUsed, call.Name)
			}
			recordToolInvocation(call.Name, toolFailureOutcome(err))
			continue
		}
		result.ToolsUsed = append(result.ToolsUsed, call.Name)
		result.ReasoningSteps = append(result.ReasoningSteps,
			fmt.Sprintf("Invoked tool %s", call.Name))
		recordToolInvocation(call.Name, observability.ToolOutcomeSuccess)
		outcomes = append(outcomes, toolOutcome{
			Name:      call.Name,
			Arguments: call.Arguments,
			Result:    out,
		})
	}
	return outcomes
}

// toolFailureOutcome categorizes a dispatch error for metrics.
func toolFailureOutcome(err error) string {
	if errors.Is(err, tools.ErrValidationFailed) || errors.Is(err, tools.ErrUnknownTool) {
		return observability.ToolOutcomeValidationError
	}
	return observability.ToolOutcomeExecutionError
}

func recordToolInvocation(tool, outcome string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordToolInvocation(tool, outcome)
	}
}

func describeToolPlan(outcomes []toolOutcome, content string) string {
	if content != "" {
		return content
	}
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		names = append(names, o.Name)
	}
	return fmt.Sprintf("I need to consult the following tools first: %v", names)
}

func (a *Analyzer) chatWithToolsRetry(ctx context.Context, messages []datatypes.Message,
	defs []llm.ToolDefinition) (*llm.ChatResult, error) {

	result, err := a.llm.ChatWithTools(ctx, messages, defs, a.params)
	if err == nil {
		return result, nil
	}
	slog.Warn("LLM tool call failed, retrying once", "error", err)
	if werr := waitRetry(ctx); werr != nil {
		return nil, werr
	}
	return a.llm.ChatWithTools(ctx, messages, defs, a.params)
}

func (a *Analyzer) chatRetry(ctx context.Context, messages []datatypes.Message) (string, error) {
	answer, err := a.llm.Chat(ctx, messages, a.params)
	if err == nil {
		return answer, nil
	}
	slog.Warn("LLM chat failed, retrying once", "error", err)
	if werr := waitRetry(ctx); werr != nil {
		return "", werr
	}
	return a.llm.Chat(ctx, messages, a.params)
}

func waitRetry(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(llmRetryDelay):
		return nil
	}
}
