// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMemory(t *testing.T, maxTurns int) *SessionMemory {
	t.Helper()
	db, err := store.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionMemory(db, maxTurns, 0)
}

func TestAppendAndRecentTurns(t *testing.T) {
	m := testMemory(t, 0)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "sess_1", datatypes.ConversationTurn{
		Question: "primera", Answer: "r1",
	}))
	require.NoError(t, m.AppendTurn(ctx, "sess_1", datatypes.ConversationTurn{
		Question: "segunda", Answer: "r2",
	}))

	turns, err := m.RecentTurns(ctx, "sess_1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "primera", turns[0].Question)
	assert.Equal(t, "segunda", turns[1].Question)
	assert.NotZero(t, turns[0].Timestamp)
}

func TestRecentTurnsTail(t *testing.T) {
	m := testMemory(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendTurn(ctx, "sess_1", datatypes.ConversationTurn{
			Question: fmt.Sprintf("q%d", i),
		}))
	}

	turns, err := m.RecentTurns(ctx, "sess_1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q3", turns[0].Question)
	assert.Equal(t, "q4", turns[1].Question)
}

func TestMaxTurnsEviction(t *testing.T) {
	m := testMemory(t, 3)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, m.AppendTurn(ctx, "sess_1", datatypes.ConversationTurn{
			Question: fmt.Sprintf("q%d", i),
		}))
	}

	turns, err := m.RecentTurns(ctx, "sess_1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q3", turns[0].Question)
}

func TestSessionsAreIsolated(t *testing.T) {
	m := testMemory(t, 0)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "sess_a", datatypes.ConversationTurn{Question: "de a"}))

	turns, err := m.RecentTurns(ctx, "sess_b", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAppendRequiresSessionID(t *testing.T) {
	m := testMemory(t, 0)
	assert.Error(t, m.AppendTurn(context.Background(), "", datatypes.ConversationTurn{}))
}
