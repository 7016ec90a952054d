// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PolicyAssistant/services/llm"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/tools"
)

// scriptedLLM returns canned responses in order and records every call.
type scriptedLLM struct {
	toolResults []*llm.ChatResult
	toolErrs    []error
	toolIdx     int

	chatAnswers []string
	chatErrs    []error
	chatIdx     int

	lastChatMessages []datatypes.Message
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "", errors.New("not scripted")
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams) (string, error) {
	s.lastChatMessages = messages
	i := s.chatIdx
	s.chatIdx++
	if i < len(s.chatErrs) && s.chatErrs[i] != nil {
		return "", s.chatErrs[i]
	}
	if i < len(s.chatAnswers) {
		return s.chatAnswers[i], nil
	}
	return "", errors.New("no more scripted answers")
}

func (s *scriptedLLM) ChatWithTools(ctx context.Context, messages []datatypes.Message,
	defs []llm.ToolDefinition, params llm.GenerationParams) (*llm.ChatResult, error) {
	i := s.toolIdx
	s.toolIdx++
	if i < len(s.toolErrs) && s.toolErrs[i] != nil {
		return nil, s.toolErrs[i]
	}
	if i < len(s.toolResults) {
		return s.toolResults[i], nil
	}
	return nil, errors.New("no more scripted results")
}

func TestAnalyzer_NoToolsPassesAnswerThrough(t *testing.T) {
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{Content: "Managers approve up to 5000 USD."}},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "What can managers approve?",
		[]datatypes.RetrievedChunk{{Source: "expense_policy.md", Content: "...", Rank: 1}},
		datatypes.SessionContext{})
	require.NoError(t, err)
	assert.Equal(t, "Managers approve up to 5000 USD.", result.Answer)
	assert.Empty(t, result.ToolsUsed)
	assert.Contains(t, result.ReasoningSteps, "Synthesized answer from policy context")
}

func TestAnalyzer_ToolCallFoldedIntoFollowUp(t *testing.T) {
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{
			ToolCalls: []llm.ToolCall{{
				Name:      "calculator",
				Arguments: map[string]any{"expression": "5000 * 0.1"},
			}},
		}},
		chatAnswers: []string{"The per diem is 500 USD."},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "What is 10% of the limit?",
		nil, datatypes.SessionContext{})
	require.NoError(t, err)
	assert.Equal(t, "The per diem is 500 USD.", result.Answer)
	assert.Equal(t, []string{"calculator"}, result.ToolsUsed)
	assert.Contains(t, result.ReasoningSteps, "Invoked tool calculator")

	// The follow-up turn carries the tool output to the model.
	var sawResult bool
	for _, m := range mock.lastChatMessages {
		if strings.Contains(m.Content, "Tool results") && strings.Contains(m.Content, "500") {
			sawResult = true
		}
	}
	assert.True(t, sawResult)
}

func TestAnalyzer_RepeatedToolCallSkipped(t *testing.T) {
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{
			ToolCalls: []llm.ToolCall{
				{Name: "calculator", Arguments: map[string]any{"expression": "1 + 1"}},
				{Name: "calculator", Arguments: map[string]any{"expression": "2 + 2"}},
			},
		}},
		chatAnswers: []string{"done"},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"calculator"}, result.ToolsUsed)
	assert.Contains(t, result.ReasoningSteps, "Skipped repeated call to calculator")
}

func TestAnalyzer_ToolValidationFailureRecordedNotFatal(t *testing.T) {
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{
			Content: "Partial answer without the tool.",
			ToolCalls: []llm.ToolCall{
				{Name: "calculator", Arguments: map[string]any{}}, // missing expression
			},
		}},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.NoError(t, err)
	// A dispatched tool counts as used even when its arguments fail
	// validation; the attempt is part of the query's tool trace.
	assert.Equal(t, []string{"calculator"}, result.ToolsUsed)
	assert.Equal(t, "Partial answer without the tool.", result.Answer)

	var sawFailure bool
	for _, step := range result.ReasoningSteps {
		if strings.Contains(step, "Tool calculator failed") {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestAnalyzer_FailedExecutionStillCountedAsUsed(t *testing.T) {
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{
			Content: "Answer without arithmetic.",
			ToolCalls: []llm.ToolCall{
				{Name: "calculator", Arguments: map[string]any{"expression": "2 + "}},
			},
		}},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.NoError(t, err)
	assert.Contains(t, result.ToolsUsed, "calculator")
}

func TestAnalyzer_UnknownToolStaysOutOfToolsUsed(t *testing.T) {
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{
			Content: "Answer.",
			ToolCalls: []llm.ToolCall{
				{Name: "web_search", Arguments: map[string]any{"q": "policy"}},
			},
		}},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.NoError(t, err)
	// The tool set is a closed enum; a hallucinated name never appears in
	// the trace.
	assert.Empty(t, result.ToolsUsed)
}

func TestAnalyzer_ToolOutcomesReachMetrics(t *testing.T) {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_tool_invocations_total"},
		[]string{"tool", "outcome"},
	)
	prev := observability.DefaultMetrics
	observability.DefaultMetrics = &observability.AgenticMetrics{ToolInvocationsTotal: counters}
	t.Cleanup(func() { observability.DefaultMetrics = prev })

	// One successful call, one repeat of the same tool (skipped), and one
	// call with arguments that fail validation.
	mock := &scriptedLLM{
		toolResults: []*llm.ChatResult{{
			ToolCalls: []llm.ToolCall{
				{Name: "calculator", Arguments: map[string]any{"expression": "1 + 1"}},
				{Name: "calculator", Arguments: map[string]any{"expression": "2 + 2"}},
				{Name: "step_counter", Arguments: map[string]any{}},
			},
		}},
		chatAnswers: []string{"done"},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	_, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.NoError(t, err)

	get := func(tool, outcome string) float64 {
		return testutil.ToFloat64(counters.WithLabelValues(tool, outcome))
	}
	assert.Equal(t, 1.0, get("calculator", observability.ToolOutcomeSuccess))
	assert.Equal(t, 1.0, get("calculator", observability.ToolOutcomeSkipped))
	assert.Equal(t, 1.0, get("step_counter", observability.ToolOutcomeValidationError))
}

func TestAnalyzer_RetriesOnceThenSucceeds(t *testing.T) {
	mock := &scriptedLLM{
		toolErrs:    []error{errors.New("transient")},
		toolResults: []*llm.ChatResult{nil, {Content: "recovered"}},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	result, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Answer)
	assert.Equal(t, 2, mock.toolIdx)
}

func TestAnalyzer_BothAttemptsFail(t *testing.T) {
	mock := &scriptedLLM{
		toolErrs: []error{errors.New("down"), errors.New("still down")},
	}
	analyzer := NewAnalyzer(mock, tools.DefaultRegistry())

	_, err := analyzer.Analyze(context.Background(), "q", nil, datatypes.SessionContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnalysisUnavailable))
}

func TestToolDefinitions_SchemaShape(t *testing.T) {
	defs := ToolDefinitions(tools.DefaultRegistry())
	require.Len(t, defs, 3)

	byName := map[string]llm.ToolDefinition{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	calc, ok := byName["calculator"]
	require.True(t, ok)
	assert.Equal(t, "object", calc.Parameters["type"])

	props, ok := calc.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	expr, ok := props["expression"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", expr["type"])
	assert.Contains(t, calc.Parameters["required"], "expression")
}

func TestBuildMessages(t *testing.T) {
	sessCtx := datatypes.SessionContext{
		RecentTurns: []datatypes.ConversationTurn{
			{Query: "earlier question", Answer: "earlier answer"},
		},
		Preferences: map[string]string{"name": "Priya"},
	}
	chunks := []datatypes.RetrievedChunk{
		{Source: "leave_policy.md", Content: "Leave accrues monthly.", Rank: 1},
	}

	messages := BuildMessages("How much leave do I get?", chunks, sessCtx)
	require.GreaterOrEqual(t, len(messages), 4)
	assert.Equal(t, "system", messages[0].Role)

	assert.Contains(t, messages[1].Content, "Priya")
	assert.Equal(t, "earlier question", messages[2].Content)
	assert.Equal(t, "earlier answer", messages[3].Content)

	last := messages[len(messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "leave_policy.md")
	assert.Contains(t, last.Content, "How much leave do I get?")
}

func TestBuildMessages_EmptyRetrievalGetsNoContextNote(t *testing.T) {
	messages := BuildMessages("Anything about pets?", nil, datatypes.SessionContext{})
	last := messages[len(messages)-1]
	assert.Contains(t, last.Content, "No policy excerpts matched")
}
