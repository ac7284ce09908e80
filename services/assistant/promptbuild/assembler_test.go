// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package promptbuild

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIncludesChunksInRankOrder(t *testing.T) {
	a := NewAssembler(Config{})

	chunks := []datatypes.Chunk{
		{ID: "c1", Source: "requisitos.pdf", Content: "Primer fragmento."},
		{ID: "c2", Source: "manual.pdf", Content: "Segundo fragmento."},
	}
	got := a.Build("¿Cuáles son los requisitos?", chunks, nil, false)

	first := strings.Index(got.Prompt, "Primer fragmento.")
	second := strings.Index(got.Prompt, "Segundo fragmento.")
	require.Greater(t, first, -1)
	require.Greater(t, second, -1)
	assert.Less(t, first, second)

	require.Len(t, got.Citations, 2)
	assert.Equal(t, datatypes.Citation{ChunkID: "c1", Source: "requisitos.pdf"}, got.Citations[0])
	assert.Equal(t, datatypes.Citation{ChunkID: "c2", Source: "manual.pdf"}, got.Citations[1])
	assert.False(t, got.Truncated)
}

func TestBuildDropsLowestRankedOnOverflow(t *testing.T) {
	a := NewAssembler(Config{MaxPromptChars: 1200})

	var chunks []datatypes.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, datatypes.Chunk{
			ID:      fmt.Sprintf("c%d", i),
			Source:  "doc.pdf",
			Content: strings.Repeat("texto ", 40),
		})
	}
	got := a.Build("pregunta breve", chunks, nil, false)

	assert.True(t, got.Truncated)
	require.NotEmpty(t, got.Chunks)
	assert.Less(t, len(got.Chunks), len(chunks))
	assert.LessOrEqual(t, len(got.Prompt), 1200)

	// The survivors are a prefix of the ranked input, never a re-pick.
	for i, c := range got.Chunks {
		assert.Equal(t, chunks[i].ID, c.ID)
	}
}

func TestBuildNeverDropsSnapshotOrQuestion(t *testing.T) {
	a := NewAssembler(Config{MaxPromptChars: 600})

	snap := &datatypes.Snapshot{
		SubjectKey: "CLI-1",
		FullName:   "Maria Gomez",
		Products:   []datatypes.Product{{Name: "Caja de ahorro", Status: "activa"}},
	}
	chunks := []datatypes.Chunk{
		{ID: "c1", Source: "doc.pdf", Content: strings.Repeat("relleno ", 100)},
	}
	got := a.Build("¿Cuál es mi saldo?", chunks, snap, false)

	assert.Contains(t, got.Prompt, "Maria Gomez")
	assert.Contains(t, got.Prompt, "Caja de ahorro")
	assert.Contains(t, got.Prompt, "¿Cuál es mi saldo?")
	assert.True(t, got.Truncated)
	assert.Empty(t, got.Chunks, "the oversized chunk is dropped before the snapshot")
}

func TestBuildWithoutSnapshot(t *testing.T) {
	a := NewAssembler(Config{})
	got := a.Build("hola", nil, nil, false)

	assert.NotContains(t, got.Prompt, "Ficha del cliente")
	assert.Contains(t, got.Prompt, "### Pregunta")
	assert.Empty(t, got.Citations)
}

func TestBuildFullListAddsEnumerateInstruction(t *testing.T) {
	a := NewAssembler(Config{})
	chunks := []datatypes.Chunk{
		{ID: "c1", Source: "comisiones.pdf", Content: "Comisión de mantenimiento: $500."},
	}

	got := a.Build("lista completa de comisiones", chunks, nil, true)

	assert.Contains(t, got.Prompt, "enumeración completa")

	plain := a.Build("lista completa de comisiones", chunks, nil, false)
	assert.NotContains(t, plain.Prompt, "enumeración completa")
}

func TestSnapshotRendersMaskedValuesVerbatim(t *testing.T) {
	a := NewAssembler(Config{})

	snap := &datatypes.Snapshot{
		SubjectKey: "CLI-1",
		NationalID: "**.***.678",
		Email:      "m***@example.com",
	}
	got := a.Build("pregunta", nil, snap, false)

	// The assembler renders exactly what it is given; masking happened
	// upstream and is never undone here.
	assert.Contains(t, got.Prompt, "**.***.678")
	assert.Contains(t, got.Prompt, "m***@example.com")
}
