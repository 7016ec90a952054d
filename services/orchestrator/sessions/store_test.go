// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

func TestMemoryStore_GetOrCreate(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", sess.SessionId)
	assert.Empty(t, sess.Turns)
	assert.NotNil(t, sess.Preferences)
	assert.Greater(t, sess.CreatedAt, int64(0))

	// Same id returns the same session, not a fresh one.
	require.NoError(t, store.AppendTurn(ctx, "sess_1",
		datatypes.ConversationTurn{Query: "q", Answer: "a", Timestamp: 1}, nil))
	again, err := store.GetOrCreate(ctx, "sess_1")
	require.NoError(t, err)
	assert.Len(t, again.Turns, 1)
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	snap, err := store.GetOrCreate(ctx, "sess_1")
	require.NoError(t, err)
	snap.Turns = append(snap.Turns, datatypes.ConversationTurn{Query: "rogue"})
	snap.Preferences["name"] = "rogue"

	fresh, err := store.GetOrCreate(ctx, "sess_1")
	require.NoError(t, err)
	assert.Empty(t, fresh.Turns)
	assert.Empty(t, fresh.Preferences)
}

func TestMemoryStore_BoundedHistory(t *testing.T) {
	const limit = 2
	store := NewMemoryStore(limit)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		err := store.AppendTurn(ctx, "sess_1", datatypes.ConversationTurn{
			Query:     fmt.Sprintf("q%d", i),
			Answer:    fmt.Sprintf("a%d", i),
			Timestamp: int64(i),
		}, nil)
		require.NoError(t, err)
	}

	sess, found, err := store.Get(ctx, "sess_1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, sess.Turns, limit)
	// Most recent turns survive, oldest first.
	assert.Equal(t, "q4", sess.Turns[0].Query)
	assert.Equal(t, "q5", sess.Turns[1].Query)
}

func TestMemoryStore_PreferencesLastWriteWins(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, "sess_1",
		datatypes.ConversationTurn{Query: "q1"}, map[string]string{"name": "Sam", "team": "IT"}))
	require.NoError(t, store.AppendTurn(ctx, "sess_1",
		datatypes.ConversationTurn{Query: "q2"}, map[string]string{"name": "Alex"}))

	sess, _, err := store.Get(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "Alex", sess.Preferences["name"])
	assert.Equal(t, "IT", sess.Preferences["team"])
}

func TestMemoryStore_ConcurrentAppendsNeverCorrupt(t *testing.T) {
	const limit = 2
	const writers = 32
	store := NewMemoryStore(limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.AppendTurn(ctx, "sess_1", datatypes.ConversationTurn{
				Query:  fmt.Sprintf("q%d", i),
				Answer: fmt.Sprintf("a%d", i),
			}, map[string]string{"writer": fmt.Sprintf("%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, found, err := store.Get(ctx, "sess_1")
	require.NoError(t, err)
	require.True(t, found)
	// Interleavings may drop turns from retention, never the bound.
	assert.LessOrEqual(t, len(sess.Turns), limit)
	assert.NotEmpty(t, sess.Preferences["writer"])
}

func TestMemoryStore_ListAndDelete(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	_, _ = store.GetOrCreate(ctx, "sess_b")
	_, _ = store.GetOrCreate(ctx, "sess_a")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess_a", "sess_b"}, ids)

	require.NoError(t, store.Delete(ctx, "sess_a"))
	require.NoError(t, store.Delete(ctx, "sess_missing"))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess_b"}, ids)
}

func TestApplyTurn_CorruptionDetected(t *testing.T) {
	sess := &datatypes.Session{
		SessionId: "sess_bad",
		Turns: []datatypes.ConversationTurn{
			{Query: "1"}, {Query: "2"}, {Query: "3"},
		},
		Preferences: map[string]string{},
	}

	err := applyTurn(sess, datatypes.ConversationTurn{Query: "4"}, nil, 2, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionCorruption))

	err = applyTurn(&datatypes.Session{SessionId: "sess_nil"}, datatypes.ConversationTurn{}, nil, 2, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionCorruption))
}

func TestHistoryLimitFromEnv(t *testing.T) {
	t.Setenv("SESSION_HISTORY_LIMIT", "")
	assert.Equal(t, DefaultHistoryLimit, HistoryLimitFromEnv())

	t.Setenv("SESSION_HISTORY_LIMIT", "7")
	assert.Equal(t, 7, HistoryLimitFromEnv())

	t.Setenv("SESSION_HISTORY_LIMIT", "zero")
	assert.Equal(t, DefaultHistoryLimit, HistoryLimitFromEnv())

	t.Setenv("SESSION_HISTORY_LIMIT", "-1")
	assert.Equal(t, DefaultHistoryLimit, HistoryLimitFromEnv())
}
