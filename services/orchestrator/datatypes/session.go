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

// ConversationTurn is one completed query/answer exchange.
// Turns are immutable once appended to a session.
type ConversationTurn struct {
	Query     string `json:"query"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"`
}

// Session holds the bounded multi-turn state for one conversation.
//
// # Description
//
// A session is created implicitly the first time an unseen id arrives.
// Turns holds the most recent exchanges, oldest first, bounded by the
// store's retention limit. Preferences holds heuristic user facts
// (name, role, team, stated preferences) with last-write-wins semantics.
//
// # Thread Safety
//
// Session values handed out by a store are snapshots. Mutating a snapshot
// does not affect the stored session; all writes go through the store.
type Session struct {
	SessionId    string             `json:"session_id"`
	CreatedAt    int64              `json:"created_at"`
	LastActiveAt int64              `json:"last_active_at"`
	Turns        []ConversationTurn `json:"turns"`
	Preferences  map[string]string  `json:"preferences"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := &Session{
		SessionId:    s.SessionId,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		Turns:        make([]ConversationTurn, len(s.Turns)),
		Preferences:  make(map[string]string, len(s.Preferences)),
	}
	copy(cp.Turns, s.Turns)
	for k, v := range s.Preferences {
		cp.Preferences[k] = v
	}
	return cp
}

// SessionContext is the condensed view of a session handed to the
// analysis stage for prompt construction.
type SessionContext struct {
	SessionId   string
	RecentTurns []ConversationTurn
	Preferences map[string]string
}

// Context builds the prompt-facing view of the session.
func (s *Session) Context() SessionContext {
	return SessionContext{
		SessionId:   s.SessionId,
		RecentTurns: append([]ConversationTurn(nil), s.Turns...),
		Preferences: s.Preferences,
	}
}
