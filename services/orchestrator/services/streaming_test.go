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
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/analysis"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/retrieval"
)

// collectingEmitter records every event. If cancelAfterContent is set it
// cancels the context when the first content event arrives, simulating a
// client disconnect mid-stream.
type collectingEmitter struct {
	events             []datatypes.StreamEvent
	cancel             context.CancelFunc
	cancelAfterContent bool
}

func (c *collectingEmitter) Emit(event datatypes.StreamEvent) error {
	c.events = append(c.events, event)
	if c.cancelAfterContent && event.Type == datatypes.StreamEventContent && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

func (c *collectingEmitter) ofType(t string) []datatypes.StreamEvent {
	var out []datatypes.StreamEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// plainAccumulator is an in-memory AnswerAccumulator for tests.
type plainAccumulator struct {
	sb strings.Builder
}

func (p *plainAccumulator) Write(token string) error { p.sb.WriteString(token); return nil }
func (p *plainAccumulator) Finalize() (string, string, error) {
	return p.sb.String(), "", nil
}
func (p *plainAccumulator) Destroy() {}

func TestProcessStream_EventSequence(t *testing.T) {
	answer := "Managers may approve purchases up to 5000 USD. Larger requests " +
		"escalate to a director, and anything above 25000 USD requires the CEO."
	retr := &fakeRetriever{chunks: []datatypes.RetrievedChunk{
		{Source: "expense_policy.md", Content: "a", Rank: 1},
		{Source: "approval_matrix.md", Content: "b", Rank: 2},
	}}
	an := &fakeAnalyzer{result: &analysis.Result{
		Answer:         answer,
		ReasoningSteps: []string{"Synthesized answer from policy context"},
		ToolsUsed:      []string{},
	}}
	service, store := newTestService(t, retr, an, nil)

	emitter := &collectingEmitter{}
	err := service.ProcessStream(context.Background(), "sess_1", "Who approves what?",
		emitter, &plainAccumulator{})
	require.NoError(t, err)

	// First event is thinking, last is done.
	require.NotEmpty(t, emitter.events)
	assert.Equal(t, datatypes.StreamEventThinking, emitter.events[0].Type)
	assert.Equal(t, datatypes.StreamEventDone, emitter.events[len(emitter.events)-1].Type)

	// Both agents report in_progress then completed.
	steps := emitter.ofType(datatypes.StreamEventAgentStep)
	require.Len(t, steps, 4)
	assert.Equal(t, datatypes.AgentRetrieval, steps[0].Agent)
	assert.Equal(t, datatypes.StepStatusInProgress, steps[0].Status)
	assert.Equal(t, datatypes.StepStatusCompleted, steps[1].Status)
	assert.Equal(t, datatypes.AgentAnalysis, steps[2].Agent)
	assert.Equal(t, datatypes.StepStatusCompleted, steps[3].Status)

	// One source event per distinct source.
	sources := emitter.ofType(datatypes.StreamEventSource)
	require.Len(t, sources, 2)
	assert.Equal(t, "expense_policy.md", sources[0].Source)

	// Metadata arrives after the last content chunk, just before done.
	meta := emitter.ofType(datatypes.StreamEventMetadata)
	require.Len(t, meta, 1)
	assert.Equal(t, []string{"expense_policy.md", "approval_matrix.md"}, meta[0].Sources)

	lastContentIdx, metaIdx := -1, -1
	for i, e := range emitter.events {
		switch e.Type {
		case datatypes.StreamEventContent:
			lastContentIdx = i
		case datatypes.StreamEventMetadata:
			metaIdx = i
		}
	}
	require.Greater(t, lastContentIdx, 0)
	assert.Greater(t, metaIdx, lastContentIdx)
	assert.Equal(t, datatypes.StreamEventDone, emitter.events[metaIdx+1].Type)

	// The done payload equals the concatenated content chunks exactly.
	var concat strings.Builder
	for _, e := range emitter.ofType(datatypes.StreamEventContent) {
		concat.WriteString(e.Chunk)
	}
	done := emitter.ofType(datatypes.StreamEventDone)
	require.Len(t, done, 1)
	assert.Equal(t, concat.String(), done[0].FullResponse)
	assert.Equal(t, answer, done[0].FullResponse)

	// The turn is recorded once the stream completes.
	sess, found, err := store.Get(context.Background(), "sess_1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, answer, sess.Turns[0].Answer)
}

func TestProcessStream_RecordsTimeToFirstContent(t *testing.T) {
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_time_to_first_content_seconds"},
		[]string{"endpoint"},
	)
	prev := observability.DefaultMetrics
	observability.DefaultMetrics = &observability.AgenticMetrics{TimeToFirstContentSeconds: hist}
	t.Cleanup(func() { observability.DefaultMetrics = prev })

	retr := &fakeRetriever{}
	an := &fakeAnalyzer{result: &analysis.Result{Answer: "Short answer."}}
	service, _ := newTestService(t, retr, an, nil)

	emitter := &collectingEmitter{}
	err := service.ProcessStream(context.Background(), "sess_ttfc", "q",
		emitter, &plainAccumulator{})
	require.NoError(t, err)

	// Materialize the expected child first; if the stream had observed
	// under any other endpoint label there would be two series.
	_, err = hist.GetMetricWithLabelValues(string(observability.EndpointAgenticStream))
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(hist))
}

func TestProcessStream_RetrievalFailureEmitsError(t *testing.T) {
	retr := &fakeRetriever{err: retrieval.ErrRetrievalUnavailable}
	service, store := newTestService(t, retr, &fakeAnalyzer{}, nil)

	emitter := &collectingEmitter{}
	err := service.ProcessStream(context.Background(), "sess_1", "q",
		emitter, &plainAccumulator{})
	require.Error(t, err)

	errEvents := emitter.ofType(datatypes.StreamEventError)
	require.Len(t, errEvents, 1)
	assert.Contains(t, errEvents[0].Message, "retrieval unavailable")
	assert.Empty(t, emitter.ofType(datatypes.StreamEventDone))

	sess, found, _ := store.Get(context.Background(), "sess_1")
	if found {
		assert.Empty(t, sess.Turns)
	}
}

func TestProcessStream_DisconnectDiscardsTurn(t *testing.T) {
	// Long answer guarantees multiple content chunks.
	answer := strings.Repeat("every word of this answer matters to someone ", 20)
	retr := &fakeRetriever{chunks: []datatypes.RetrievedChunk{{Source: "s.md", Rank: 1}}}
	an := &fakeAnalyzer{result: &analysis.Result{
		Answer:         answer,
		ReasoningSteps: []string{},
		ToolsUsed:      []string{},
	}}
	service, store := newTestService(t, retr, an, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emitter := &collectingEmitter{cancel: cancel, cancelAfterContent: true}

	err := service.ProcessStream(ctx, "sess_1", "q", emitter, &plainAccumulator{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, emitter.ofType(datatypes.StreamEventDone))

	sess, found, _ := store.Get(context.Background(), "sess_1")
	if found {
		assert.Empty(t, sess.Turns)
	}
}

func TestChunkAnswer_ConcatenationIsLossless(t *testing.T) {
	tests := []string{
		"",
		"short",
		"two words",
		strings.Repeat("alpha beta gamma delta ", 30),
		"no-spaces-at-all-" + strings.Repeat("x", 200),
		"trailing whitespace preserved   ",
		"multi\nline\nanswers\nstay\nintact",
	}
	for _, answer := range tests {
		pieces := chunkAnswer(answer, 48)
		assert.Equal(t, answer, strings.Join(pieces, ""))
	}
}

func TestChunkAnswer_BreaksAtWhitespace(t *testing.T) {
	answer := strings.Repeat("word ", 40)
	pieces := chunkAnswer(answer, 20)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces[:len(pieces)-1] {
		assert.True(t, strings.HasSuffix(p, " "), "piece %q should end at whitespace", p)
	}
}
