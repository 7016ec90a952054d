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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/analysis"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/retrieval"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/sessions"
	"github.com/AleutianAI/PolicyAssistant/services/policy_engine"
)

// fakeRetriever returns scripted chunks or a scripted error.
type fakeRetriever struct {
	chunks []datatypes.RetrievedChunk
	err    error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.RetrievedChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

// fakeAnalyzer returns a scripted analysis result.
type fakeAnalyzer struct {
	result *analysis.Result
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, query string,
	chunks []datatypes.RetrievedChunk, sessCtx datatypes.SessionContext) (*analysis.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestService(t *testing.T, retr *fakeRetriever, an *fakeAnalyzer,
	engine *policy_engine.PolicyEngine) (*AgenticService, sessions.Store) {
	t.Helper()
	store := sessions.NewMemoryStore(2)
	return NewAgenticService(retr, an, store, engine), store
}

func TestAgenticService_ProcessHappyPath(t *testing.T) {
	retr := &fakeRetriever{chunks: []datatypes.RetrievedChunk{
		{Source: "expense_policy.md", Content: "a", Rank: 1, Score: 0.9},
		{Source: "leave_policy.md", Content: "b", Rank: 2, Score: 0.7},
		{Source: "expense_policy.md", Content: "c", Rank: 3, Score: 0.5},
	}}
	an := &fakeAnalyzer{result: &analysis.Result{
		Answer:         "Managers approve up to 5000 USD.",
		ReasoningSteps: []string{"Synthesized answer from policy context"},
		ToolsUsed:      []string{"role_lookup"},
	}}
	service, store := newTestService(t, retr, an, nil)

	req := &datatypes.AgenticQueryRequest{Query: "What can managers approve?"}
	resp, err := service.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Managers approve up to 5000 USD.", resp.Answer)
	assert.Equal(t, []string{"expense_policy.md", "leave_policy.md"}, resp.Sources)
	assert.Equal(t, []string{"role_lookup"}, resp.ToolsUsed)
	require.NotEmpty(t, resp.ReasoningSteps)
	assert.Equal(t, "Retrieved 3 relevant policy chunks", resp.ReasoningSteps[0])

	sess, found, err := store.Get(context.Background(), resp.SessionId)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, req.Query, sess.Turns[0].Query)
}

func TestAgenticService_EmptyRetrievalIsValid(t *testing.T) {
	retr := &fakeRetriever{}
	an := &fakeAnalyzer{result: &analysis.Result{
		Answer:         "The policy corpus has no relevant material.",
		ReasoningSteps: []string{},
		ToolsUsed:      []string{},
	}}
	service, _ := newTestService(t, retr, an, nil)

	resp, err := service.Process(context.Background(),
		&datatypes.AgenticQueryRequest{Query: "Anything about pets?"})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "Retrieved no matching policy chunks", resp.ReasoningSteps[0])
}

func TestAgenticService_PolicyViolationBlocksPipeline(t *testing.T) {
	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)

	retr := &fakeRetriever{err: errors.New("should not be called")}
	service, store := newTestService(t, retr, &fakeAnalyzer{}, engine)

	req := &datatypes.AgenticQueryRequest{
		Query:     "My aws key is AKIA1234567890123456, is that a problem?",
		SessionId: "sess_violation",
	}
	_, err = service.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsPolicyViolation(err))
	assert.NotEmpty(t, GetPolicyFindings(err))

	_, found, _ := store.Get(context.Background(), "sess_violation")
	assert.False(t, found)
}

func TestAgenticService_RetrievalErrorPropagates(t *testing.T) {
	retr := &fakeRetriever{err: retrieval.ErrRetrievalUnavailable}
	service, store := newTestService(t, retr, &fakeAnalyzer{}, nil)

	req := &datatypes.AgenticQueryRequest{Query: "q", SessionId: "sess_1"}
	_, err := service.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, retrieval.ErrRetrievalUnavailable))

	sess, found, _ := store.Get(context.Background(), "sess_1")
	if found {
		assert.Empty(t, sess.Turns)
	}
}

func TestAgenticService_AnalysisErrorPropagates(t *testing.T) {
	retr := &fakeRetriever{chunks: []datatypes.RetrievedChunk{{Source: "s", Rank: 1}}}
	an := &fakeAnalyzer{err: analysis.ErrAnalysisUnavailable}
	service, store := newTestService(t, retr, an, nil)

	req := &datatypes.AgenticQueryRequest{Query: "q", SessionId: "sess_1"}
	_, err := service.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrAnalysisUnavailable))

	sess, found, _ := store.Get(context.Background(), "sess_1")
	if found {
		assert.Empty(t, sess.Turns)
	}
}

func TestAgenticService_ValidationError(t *testing.T) {
	service, _ := newTestService(t, &fakeRetriever{}, &fakeAnalyzer{}, nil)

	_, err := service.Process(context.Background(), &datatypes.AgenticQueryRequest{Query: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestDedupSources(t *testing.T) {
	chunks := []datatypes.RetrievedChunk{
		{Source: "b.md"}, {Source: "a.md"}, {Source: "b.md"}, {Source: ""},
	}
	assert.Equal(t, []string{"b.md", "a.md"}, DedupSources(chunks))
	assert.Empty(t, DedupSources(nil))
}
