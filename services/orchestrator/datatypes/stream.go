// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Streaming event types emitted on /agentic/query/streaming.
//
// Event ordering contract per stream:
//
//	thinking* agent_step* source* content* metadata done
//
// with "error" terminal from any point. No event follows "done" or "error".
const (
	StreamEventThinking  = "thinking"
	StreamEventAgentStep = "agent_step"
	StreamEventSource    = "source"
	StreamEventContent   = "content"
	StreamEventMetadata  = "metadata"
	StreamEventDone      = "done"
	StreamEventError     = "error"
)

// Agent step statuses carried on agent_step events.
const (
	StepStatusInProgress = "in_progress"
	StepStatusCompleted  = "completed"
)

// Logical agent names surfaced to clients on agent_step events.
const (
	AgentRetrieval = "Information Retrieval Agent"
	AgentAnalysis  = "Analysis Agent"
)

// StreamEvent is a single SSE payload on the streaming endpoint.
//
// # Description
//
// One struct covers all event types; the Type field selects which of the
// optional fields are populated. Every event additionally carries an id,
// a creation timestamp, and a SHA-256 hash chained to the previous event
// so clients can verify nothing was dropped or reordered in transit.
//
// # Fields by Type
//
//   - thinking: Message
//   - agent_step: Agent, Step, Status, Response (completed steps only)
//   - source: Source (one event per unique source)
//   - content: Chunk
//   - metadata: ReasoningSteps, Sources, ToolsUsed
//   - done: FullResponse (byte-for-byte concatenation of all Chunk fields)
//   - error: Message (terminal)
type StreamEvent struct {
	Type           string   `json:"type"`
	Message        string   `json:"message,omitempty"`
	Agent          string   `json:"agent,omitempty"`
	Step           string   `json:"step,omitempty"`
	Status         string   `json:"status,omitempty"`
	Response       string   `json:"response,omitempty"`
	Source         string   `json:"source,omitempty"`
	Chunk          string   `json:"chunk,omitempty"`
	ReasoningSteps []string `json:"reasoning_steps,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	ToolsUsed      []string `json:"tools_used,omitempty"`
	FullResponse   string   `json:"full_response,omitempty"`

	// Integrity metadata, populated by the SSE writer.
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}
