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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

const badgerKeyPrefix = "session/"

// BadgerStore is the persistent Store backend.
//
// Sessions are stored as JSON under "session/<id>". Badger transactions give
// atomicity per write, but the read-modify-write of AppendTurn still needs
// per-session mutual exclusion, which the lock table provides.
type BadgerStore struct {
	db    *badger.DB
	limit int
	clock Clock

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewBadgerStore opens (or creates) a Badger-backed store at path.
// An empty path opens an in-memory database, which is what the tests use.
func NewBadgerStore(path string, limit int) (*BadgerStore, error) {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open the Badger session store: %w", err)
	}
	slog.Info("Opened Badger session store", "path", path, "in_memory", path == "")

	return &BadgerStore{
		db:    db,
		limit: limit,
		clock: systemClock{},
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// WithClock overrides the store's clock. Test hook.
func (b *BadgerStore) WithClock(c Clock) *BadgerStore {
	b.clock = c
	return b
}

// sessionLock returns the mutex serializing writes to one session.
func (b *BadgerStore) sessionLock(sessionId string) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	mu, ok := b.locks[sessionId]
	if !ok {
		mu = &sync.Mutex{}
		b.locks[sessionId] = mu
	}
	return mu
}

func (b *BadgerStore) load(sessionId string) (*datatypes.Session, bool, error) {
	var sess datatypes.Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + sessionId))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session %s: %w", sessionId, err)
	}
	return &sess, true, nil
}

func (b *BadgerStore) save(sess *datatypes.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.SessionId, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+sess.SessionId), payload)
	})
}

func (b *BadgerStore) GetOrCreate(_ context.Context, sessionId string) (*datatypes.Session, error) {
	mu := b.sessionLock(sessionId)
	mu.Lock()
	defer mu.Unlock()

	sess, found, err := b.load(sessionId)
	if err != nil {
		return nil, err
	}
	if found {
		return sess, nil
	}

	now := b.clock.Now().UnixMilli()
	sess = &datatypes.Session{
		SessionId:    sessionId,
		CreatedAt:    now,
		LastActiveAt: now,
		Turns:        []datatypes.ConversationTurn{},
		Preferences:  map[string]string{},
	}
	if err := b.save(sess); err != nil {
		return nil, err
	}
	slog.Debug("Created new session", "sessionId", sessionId, "backend", "badger")
	return sess.Clone(), nil
}

func (b *BadgerStore) Get(_ context.Context, sessionId string) (*datatypes.Session, bool, error) {
	return b.load(sessionId)
}

func (b *BadgerStore) AppendTurn(_ context.Context, sessionId string,
	turn datatypes.ConversationTurn, prefs map[string]string) error {

	mu := b.sessionLock(sessionId)
	mu.Lock()
	defer mu.Unlock()

	sess, found, err := b.load(sessionId)
	if err != nil {
		return err
	}
	if !found {
		now := b.clock.Now().UnixMilli()
		sess = &datatypes.Session{
			SessionId:    sessionId,
			CreatedAt:    now,
			LastActiveAt: now,
			Turns:        []datatypes.ConversationTurn{},
			Preferences:  map[string]string{},
		}
	}

	if err := applyTurn(sess, turn, prefs, b.limit, b.clock.Now().UnixMilli()); err != nil {
		return err
	}
	return b.save(sess)
}

func (b *BadgerStore) List(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *BadgerStore) Delete(_ context.Context, sessionId string) error {
	mu := b.sessionLock(sessionId)
	mu.Lock()
	defer mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + sessionId))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionId, err)
	}

	b.lockMu.Lock()
	delete(b.locks, sessionId)
	b.lockMu.Unlock()
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Compile-time interface check.
var _ Store = (*BadgerStore)(nil)
