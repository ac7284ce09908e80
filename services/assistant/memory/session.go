// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory keeps short conversational history per session so the
// query normalizer can fold recent turns into the current question.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/store"
	"github.com/dgraph-io/badger/v4"
)

const (
	// DefaultMaxTurns bounds how many turns a session retains. Older
	// turns fall off the front.
	DefaultMaxTurns = 20

	// DefaultSessionTTL expires idle sessions.
	DefaultSessionTTL = 24 * time.Hour
)

// SessionMemory stores conversation turns per session in the embedded
// database. Each append rewrites the session's turn list inside one
// transaction, so concurrent appends to the same session never interleave
// partially.
type SessionMemory struct {
	db       *store.DB
	maxTurns int
	ttl      time.Duration
}

// NewSessionMemory builds a SessionMemory with defaults for zero values.
func NewSessionMemory(db *store.DB, maxTurns int, ttl time.Duration) *SessionMemory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionMemory{db: db, maxTurns: maxTurns, ttl: ttl}
}

func sessionKey(sessionID string) []byte {
	return []byte("session::" + sessionID)
}

// AppendTurn records one completed question/answer pair. The stored answer
// is the redacted one the caller actually received; raw generation output
// never lands in session memory.
func (m *SessionMemory) AppendTurn(ctx context.Context, sessionID string, turn datatypes.ConversationTurn) error {
	if sessionID == "" {
		return errors.New("session id must not be empty")
	}
	if turn.Timestamp == 0 {
		turn.Timestamp = time.Now().Unix()
	}
	return m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		turns, err := readTurns(txn, sessionID)
		if err != nil {
			return err
		}
		turns = append(turns, turn)
		if len(turns) > m.maxTurns {
			turns = turns[len(turns)-m.maxTurns:]
		}
		encoded, err := json.Marshal(turns)
		if err != nil {
			return fmt.Errorf("encode session turns: %w", err)
		}
		entry := badger.NewEntry(sessionKey(sessionID), encoded).WithTTL(m.ttl)
		return txn.SetEntry(entry)
	})
}

// RecentTurns returns up to n trailing turns, oldest first. A session with
// no history returns an empty slice, not an error.
func (m *SessionMemory) RecentTurns(ctx context.Context, sessionID string, n int) ([]datatypes.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	var turns []datatypes.ConversationTurn
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		all, err := readTurns(txn, sessionID)
		if err != nil {
			return err
		}
		if len(all) > n {
			all = all[len(all)-n:]
		}
		turns = all
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

func readTurns(txn *badger.Txn, sessionID string) ([]datatypes.ConversationTurn, error) {
	item, err := txn.Get(sessionKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []datatypes.ConversationTurn
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &turns)
	}); err != nil {
		return nil, fmt.Errorf("decode session turns: %w", err)
	}
	return turns, nil
}
