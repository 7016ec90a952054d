// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessions provides bounded multi-turn conversation state for the
// agentic pipeline.
//
// Two backends implement the same Store contract: an in-process map store
// (the default) and a Badger-backed store for deployments that need session
// state to survive restarts. Both enforce the same retention bound and the
// same per-session mutual exclusion on writes.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

// DefaultHistoryLimit is the number of conversation turns retained per
// session when SESSION_HISTORY_LIMIT is not set.
const DefaultHistoryLimit = 2

// ErrSessionCorruption means a session's structural invariant was violated
// (more turns than the retention bound, or missing preference map). This is
// fatal for the affected query; it indicates a store bug, not bad input.
var ErrSessionCorruption = errors.New("session state corrupted")

// Store is the contract for session persistence.
//
// # Description
//
// GetOrCreate and Get return deep snapshots; callers may read them without
// holding any lock and mutations to a snapshot never leak into the store.
// AppendTurn is the only write path for conversation state and serializes
// per session: two concurrent appends to the same session interleave in
// some order, and one turn may shadow another out of retention, but the
// bounded structure is never corrupted.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store interface {
	// GetOrCreate returns a snapshot of the session, creating an empty one
	// if the id has not been seen before.
	GetOrCreate(ctx context.Context, sessionId string) (*datatypes.Session, error)

	// Get returns a snapshot of the session if it exists.
	Get(ctx context.Context, sessionId string) (*datatypes.Session, bool, error)

	// AppendTurn records a completed exchange and merges extracted
	// preferences (last write wins). Turns beyond the retention bound are
	// evicted oldest-first. Returns ErrSessionCorruption if the stored
	// structure violates its invariants.
	AppendTurn(ctx context.Context, sessionId string, turn datatypes.ConversationTurn,
		prefs map[string]string) error

	// List returns all known session ids, sorted.
	List(ctx context.Context) ([]string, error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, sessionId string) error

	// Close releases backend resources.
	Close() error
}

// HistoryLimitFromEnv reads SESSION_HISTORY_LIMIT, falling back to
// DefaultHistoryLimit on unset or unparsable values.
func HistoryLimitFromEnv() int {
	raw := os.Getenv("SESSION_HISTORY_LIMIT")
	if raw == "" {
		slog.Warn("SESSION_HISTORY_LIMIT not set, using default", "limit", DefaultHistoryLimit)
		return DefaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		slog.Warn("SESSION_HISTORY_LIMIT is invalid, using default",
			"value", raw, "limit", DefaultHistoryLimit)
		return DefaultHistoryLimit
	}
	return limit
}

// =============================================================================
// In-Memory Store
// =============================================================================

// memoryEntry pairs a session with its write lock.
type memoryEntry struct {
	mu   sync.Mutex
	sess *datatypes.Session
}

// MemoryStore is the in-process Store backend.
//
// A read-write mutex guards the session map itself; each entry carries its
// own mutex so appends to different sessions never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	limit   int
	clock   Clock
}

// NewMemoryStore creates a MemoryStore retaining at most limit turns per
// session. A limit below 1 falls back to DefaultHistoryLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		limit:   limit,
		clock:   systemClock{},
	}
}

// WithClock overrides the store's clock. Test hook.
func (m *MemoryStore) WithClock(c Clock) *MemoryStore {
	m.clock = c
	return m
}

func (m *MemoryStore) entry(sessionId string) *memoryEntry {
	m.mu.RLock()
	e, ok := m.entries[sessionId]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[sessionId]; ok {
		return e
	}
	now := m.clock.Now().UnixMilli()
	e = &memoryEntry{sess: &datatypes.Session{
		SessionId:    sessionId,
		CreatedAt:    now,
		LastActiveAt: now,
		Turns:        []datatypes.ConversationTurn{},
		Preferences:  map[string]string{},
	}}
	m.entries[sessionId] = e
	slog.Debug("Created new session", "sessionId", sessionId)
	return e
}

func (m *MemoryStore) GetOrCreate(_ context.Context, sessionId string) (*datatypes.Session, error) {
	e := m.entry(sessionId)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, sessionId string) (*datatypes.Session, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[sessionId]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), true, nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, sessionId string,
	turn datatypes.ConversationTurn, prefs map[string]string) error {

	e := m.entry(sessionId)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := applyTurn(e.sess, turn, prefs, m.limit, m.clock.Now().UnixMilli()); err != nil {
		return err
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionId)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// applyTurn mutates sess in place under the caller's lock. Shared by both
// backends so retention and corruption semantics cannot drift apart.
func applyTurn(sess *datatypes.Session, turn datatypes.ConversationTurn,
	prefs map[string]string, limit int, nowMilli int64) error {

	if sess.Preferences == nil || len(sess.Turns) > limit {
		return fmt.Errorf("%w: session %s has %d turns (limit %d)",
			ErrSessionCorruption, sess.SessionId, len(sess.Turns), limit)
	}

	for k, v := range prefs {
		sess.Preferences[k] = v
	}

	sess.Turns = append(sess.Turns, turn)
	if overflow := len(sess.Turns) - limit; overflow > 0 {
		sess.Turns = append([]datatypes.ConversationTurn{}, sess.Turns[overflow:]...)
	}
	sess.LastActiveAt = nowMilli
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
