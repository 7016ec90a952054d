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
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	// httptest.ResponseRecorder implements http.Flusher.
	w, err := NewSSEWriter(httptest.NewRecorder())
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestSSEWriter_EmitFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Emit(datatypes.StreamEvent{
		Type:    datatypes.StreamEventThinking,
		Message: "Thinking about your question...",
	}))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "), "events are bare data frames")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.NotContains(t, body, "event:")

	var ev datatypes.StreamEvent
	payload := strings.TrimSuffix(strings.TrimPrefix(body, "data: "), "\n\n")
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	assert.Equal(t, datatypes.StreamEventThinking, ev.Type)
	assert.NotEmpty(t, ev.Id)
	assert.NotZero(t, ev.CreatedAt)
	assert.NotEmpty(t, ev.Hash)
	assert.Empty(t, ev.PrevHash, "first event has no predecessor")
}

func TestSSEWriter_HashChain(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Emit(datatypes.StreamEvent{Type: datatypes.StreamEventContent, Chunk: "a"}))
	require.NoError(t, w.Emit(datatypes.StreamEvent{Type: datatypes.StreamEventContent, Chunk: "b"}))
	require.NoError(t, w.Emit(datatypes.StreamEvent{Type: datatypes.StreamEventDone, FullResponse: "ab"}))

	var events []datatypes.StreamEvent
	for _, frame := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)

	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.Equal(t, events[1].Hash, events[2].PrevHash)

	// Hashes are distinct per event.
	assert.NotEqual(t, events[0].Hash, events[1].Hash)
	assert.NotEqual(t, events[1].Hash, events[2].Hash)
}

func TestSSEWriter_KeepAliveDoesNotTouchChain(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Emit(datatypes.StreamEvent{Type: datatypes.StreamEventContent, Chunk: "a"}))
	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.Emit(datatypes.StreamEvent{Type: datatypes.StreamEventContent, Chunk: "b"}))

	body := rec.Body.String()
	assert.Contains(t, body, ": ping\n\n")

	frames := []datatypes.StreamEvent{}
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if strings.HasPrefix(frame, ":") {
			continue
		}
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		frames = append(frames, ev)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, frames[0].Hash, frames[1].PrevHash)
}

func TestSSEWriter_HashCoversAllPayloadFields(t *testing.T) {
	// Events identical except in one payload field must hash differently.
	variants := []datatypes.StreamEvent{
		{Type: datatypes.StreamEventAgentStep, Agent: datatypes.AgentAnalysis},
		{Type: datatypes.StreamEventAgentStep, Agent: datatypes.AgentAnalysis,
			Step: "Analyzing policy context"},
		{Type: datatypes.StreamEventAgentStep, Agent: datatypes.AgentAnalysis,
			Status: datatypes.StepStatusCompleted},
		{Type: datatypes.StreamEventAgentStep, Agent: datatypes.AgentAnalysis,
			ToolsUsed: []string{"calculator"}},
	}

	w := &sseWriter{}
	seen := map[string]bool{}
	for i, ev := range variants {
		ev.Id = "fixed-id"
		ev.CreatedAt = 1700000000000
		h := w.computeEventHash(ev)
		assert.False(t, seen[h], "variant %d collided with an earlier hash", i)
		seen[h] = true
	}
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
