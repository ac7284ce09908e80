// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// SnapshotStore persists per-subject structured records. Stored snapshots
// always hold raw values; masking is a read-side concern and never writes
// back.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore builds a store over db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func snapshotKey(subjectKey string) []byte {
	return []byte("snapshot::" + subjectKey)
}

// Get returns the snapshot for a subject, or (nil, nil) when none exists.
// Absence is normal: not every subject has a transactional record.
func (s *SnapshotStore) Get(ctx context.Context, subjectKey string) (*datatypes.Snapshot, error) {
	var snap *datatypes.Snapshot
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(subjectKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded datatypes.Snapshot
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decode snapshot for %s: %w", subjectKey, err)
			}
			snap = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Put stores or replaces a subject's snapshot.
func (s *SnapshotStore) Put(ctx context.Context, snap *datatypes.Snapshot) error {
	if snap == nil || snap.SubjectKey == "" {
		return errors.New("snapshot must carry a subject key")
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.SubjectKey), encoded)
	})
}

// SeedFromFile loads snapshots from a JSON file (an array of snapshot
// objects) into the store. Used at startup to populate demo or migrated
// records.
func (s *SnapshotStore) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read snapshot seed file: %w", err)
	}
	var snaps []datatypes.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return 0, fmt.Errorf("parse snapshot seed file: %w", err)
	}
	for i := range snaps {
		if err := s.Put(ctx, &snaps[i]); err != nil {
			return i, err
		}
	}
	return len(snaps), nil
}
