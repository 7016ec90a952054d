// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the LLM backend abstraction for the orchestrator.
//
// The analysis stage only ever talks to the LLMClient interface; the
// concrete backend (OpenAI or Ollama) is selected at startup from
// LLM_BACKEND_TYPE.
package llm

import (
	"context"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ToolDefinition describes one callable function exposed to the model.
// Parameters is a JSON schema object in the shape both OpenAI and Ollama
// accept for function calling.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one tool invocation request parsed out of model output.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResult is the outcome of a tool-enabled chat completion. A model may
// return content, tool calls, or both.
type ChatResult struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a message history.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatWithTools produces a completion with the given tool schemas
	// exposed to the model. The model's requested tool calls, if any, come
	// back parsed; executing them is the caller's business.
	ChatWithTools(ctx context.Context, messages []datatypes.Message,
		tools []ToolDefinition, params GenerationParams) (*ChatResult, error)
}
