// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// DefaultAnswerTTL bounds how long a cached answer stays servable. Short by
// design: cached answers bypass generation but must not outlive corpus
// updates by much.
const DefaultAnswerTTL = 15 * time.Minute

// AnswerCache caches fully redacted answers keyed by scope and question.
//
// # Description
//
// The cache key includes the resolved subject and category, so two
// principals with different scopes can never share an entry. Only the
// post-redaction response is stored; a cache hit for a standard-level caller
// can therefore never leak raw PII even if the entry was written under a
// different DLP level, because DLP level is part of the key as well.
//
// Streaming requests bypass this cache entirely.
type AnswerCache struct {
	db  *DB
	ttl time.Duration
}

// NewAnswerCache builds a cache over db. A zero ttl means DefaultAnswerTTL.
func NewAnswerCache(db *DB, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = DefaultAnswerTTL
	}
	return &AnswerCache{db: db, ttl: ttl}
}

// answerKey derives the cache key. The question is hashed so arbitrarily
// long input never produces oversized keys.
func answerKey(scope datatypes.AccessScope, question string) []byte {
	sum := sha256.Sum256([]byte(question))
	key := fmt.Sprintf("answer::%s::%s::%s::%s",
		scope.Subject, scope.Category, scope.DLPLevel, hex.EncodeToString(sum[:]))
	return []byte(key)
}

// Get returns the cached response for the scope and question, or (nil, nil)
// on a miss.
func (c *AnswerCache) Get(ctx context.Context, scope datatypes.AccessScope, question string) (*datatypes.QueryResponse, error) {
	var resp *datatypes.QueryResponse
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(answerKey(scope, question))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded datatypes.QueryResponse
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decode cached answer: %w", err)
			}
			resp = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Put stores a response under the scope and question with the cache TTL.
func (c *AnswerCache) Put(ctx context.Context, scope datatypes.AccessScope, question string, resp *datatypes.QueryResponse) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode answer for cache: %w", err)
	}
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry(answerKey(scope, question), encoded).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}
