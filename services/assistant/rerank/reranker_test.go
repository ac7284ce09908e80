// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rerank

import (
	"fmt"
	"testing"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/queryproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryFor(question string, catalog []queryproc.DocAlias) queryproc.NormalizedQuery {
	n := queryproc.NewNormalizer(queryproc.Config{
		DocCatalog:    catalog,
		TopicKeywords: queryproc.DefaultTopicKeywords,
	})
	return n.Normalize(question, nil)
}


// distinctContent yields sentences with low pairwise trigram overlap, so
// cap and budget fixtures exercise selection rather than the dedup.
func distinctContent(i int) string {
	subjects := []string{
		"la tasa nominal", "el plazo fijo", "la cuota mensual",
		"el saldo deudor", "la clave digital", "el tramite online",
		"la sucursal centro", "el convenio firmado",
		"la garantia extendida", "el resumen anual",
	}
	predicates := []string{
		"se ajusta por inflacion", "vence cada bimestre",
		"se informa por correo", "cambia sin preaviso",
		"se renueva de forma automatica", "aplica solo a residentes",
		"se publica en pizarra", "rige desde enero",
		"se acredita en 48 horas", "figura al dorso",
	}
	return subjects[i%10] + " " + predicates[(i/10)%10]
}

func TestMentionBoostOutranksHigherSimilarity(t *testing.T) {
	catalog := []queryproc.DocAlias{{Filename: "requisitos.pdf"}}
	query := queryFor("que dice requisitos.pdf", catalog)

	candidates := []datatypes.Chunk{
		{ID: "other-1", DocID: "other", Source: "otros_temas.pdf",
			Content: "material sin relacion con el tema", Score: 0.80},
		{ID: "req-1", DocID: "requisitos", Source: "requisitos.pdf",
			Content: "los solicitantes deben presentar constancia de ingresos", Score: 0.60},
	}

	result := NewReranker(Config{}).Rank(query, candidates)

	require.Len(t, result.Chunks, 2)
	// 0.50*0.60 + 0.25 = 0.55 beats 0.50*0.80 = 0.40.
	assert.Equal(t, "req-1", result.Chunks[0].ID)
	assert.Equal(t, "other-1", result.Chunks[1].ID)
}

func TestNearDuplicatePoolRespectsDedupAndCap(t *testing.T) {
	query := queryFor("limite de compra", nil)

	// 20 near-identical chunks from one document plus a small unique tail.
	var candidates []datatypes.Chunk
	for i := 0; i < 20; i++ {
		candidates = append(candidates, datatypes.Chunk{
			ID:      fmt.Sprintf("dup-%02d", i),
			DocID:   "doc-a",
			Source:  "manual.pdf",
			Content: fmt.Sprintf("el limite de compra diario es de cien mil pesos argentinos y se aplica a todas las tarjetas emitidas por el banco v%d", i),
			Score:   0.9 - float64(i)*0.001,
		})
	}
	candidates = append(candidates, datatypes.Chunk{
		ID: "uniq-1", DocID: "doc-b", Source: "tarifas.pdf",
		Content: "las tarifas vigentes se publican cada trimestre", Score: 0.5,
	})

	result := NewReranker(Config{}).Rank(query, candidates)

	perDoc := map[string]int{}
	for _, c := range result.Chunks {
		perDoc[c.DocID]++
	}
	assert.LessOrEqual(t, perDoc["doc-a"], 6)
	assert.GreaterOrEqual(t, perDoc["doc-a"], 1)

	// Near-duplicates collapse well below the cap and the unique chunk
	// survives.
	assert.Contains(t, result.UsedChunkIDs, "uniq-1")
	for i, c := range result.Chunks {
		for j := i + 1; j < len(result.Chunks); j++ {
			sim := jaccard(trigramSet(c.Content), trigramSet(result.Chunks[j].Content))
			assert.LessOrEqual(t, sim, 0.85,
				"selected pair %s/%s exceeds dedup threshold", c.ID, result.Chunks[j].ID)
		}
	}
}

func TestSelectionIsDeterministicOnTies(t *testing.T) {
	query := queryFor("tema generico", nil)

	candidates := []datatypes.Chunk{
		{ID: "b", DocID: "d1", Source: "a.pdf", Content: "texto uno distinto", Score: 0.5},
		{ID: "a", DocID: "d2", Source: "b.pdf", Content: "texto dos diferente", Score: 0.5},
	}

	r := NewReranker(Config{})
	first := r.Rank(query, candidates)
	for i := 0; i < 10; i++ {
		again := r.Rank(query, candidates)
		assert.Equal(t, first.UsedChunkIDs, again.UsedChunkIDs)
	}

	// Equal scores resolve by original retrieval order.
	assert.Equal(t, []string{"b", "a"}, first.UsedChunkIDs)
}

func TestMinSimilarityFiltersWeakCandidates(t *testing.T) {
	query := queryFor("algo", nil)

	candidates := []datatypes.Chunk{
		{ID: "weak", DocID: "d", Source: "s.pdf", Content: "ruido", Score: 0.05},
		{ID: "ok", DocID: "d", Source: "s.pdf", Content: "contenido util", Score: 0.30},
	}

	result := NewReranker(Config{}).Rank(query, candidates)
	assert.Equal(t, []string{"ok"}, result.UsedChunkIDs)
}

func TestMaxResultsBound(t *testing.T) {
	query := queryFor("tema", nil)

	var candidates []datatypes.Chunk
	for i := 0; i < 80; i++ {
		candidates = append(candidates, datatypes.Chunk{
			ID:      fmt.Sprintf("c-%02d", i),
			DocID:   fmt.Sprintf("doc-%02d", i),
			Source:  fmt.Sprintf("doc%02d.pdf", i),
			Content: distinctContent(i),
			Score:   0.9 - float64(i)*0.005,
		})
	}

	result := NewReranker(Config{}).Rank(query, candidates)
	assert.Len(t, result.Chunks, 15)
}

func TestFullListRequestRelaxesBudget(t *testing.T) {
	query := queryFor("tema", nil)
	query.FullList = true

	var candidates []datatypes.Chunk
	for i := 0; i < 40; i++ {
		candidates = append(candidates, datatypes.Chunk{
			ID:      fmt.Sprintf("c-%02d", i),
			DocID:   fmt.Sprintf("doc-%02d", i),
			Source:  fmt.Sprintf("doc%02d.pdf", i),
			Content: distinctContent(i),
			Score:   0.9 - float64(i)*0.005,
		})
	}

	result := NewReranker(Config{}).Rank(query, candidates)
	assert.Len(t, result.Chunks, 40, "enumeration questions get the whole pool")
}

func TestMentionedDocGetsWiderCap(t *testing.T) {
	catalog := []queryproc.DocAlias{{Filename: "manual.pdf"}}
	query := queryFor("detalle completo de manual.pdf", catalog)

	var candidates []datatypes.Chunk
	for i := 0; i < 12; i++ {
		candidates = append(candidates, datatypes.Chunk{
			ID:      fmt.Sprintf("m-%02d", i),
			DocID:   "manual",
			Source:  "manual.pdf",
			Content: distinctContent(i),
			Score:   0.8 - float64(i)*0.01,
		})
	}

	result := NewReranker(Config{}).Rank(query, candidates)
	assert.Len(t, result.Chunks, 10, "mentioned doc cap is 10, not the default 6")
}

func TestSelectionIsIdempotent(t *testing.T) {
	query := queryFor("limite de compra", nil)

	var candidates []datatypes.Chunk
	for i := 0; i < 30; i++ {
		candidates = append(candidates, datatypes.Chunk{
			ID:      fmt.Sprintf("c-%02d", i),
			DocID:   fmt.Sprintf("doc-%d", i%4),
			Source:  fmt.Sprintf("doc%d.pdf", i%4),
			Content: distinctContent(i),
			Score:   0.9 - float64(i)*0.01,
		})
	}

	r := NewReranker(Config{})
	first := r.Rank(query, candidates)

	// Re-ranking the already-selected set returns it unchanged.
	second := r.Rank(query, first.Chunks)
	assert.Equal(t, first.UsedChunkIDs, second.UsedChunkIDs)
}

func TestEmptyCandidateSet(t *testing.T) {
	query := queryFor("algo", nil)
	result := NewReranker(Config{}).Rank(query, nil)
	assert.Empty(t, result.Chunks)
	assert.Empty(t, result.UsedChunkIDs)
}

func TestCompositeScoreStaysInUnitRange(t *testing.T) {
	catalog := []queryproc.DocAlias{{Filename: "requisitos.pdf"}}
	query := queryFor("requisitos tarjeta requisitos.pdf", catalog)

	candidates := []datatypes.Chunk{{
		ID: "max", DocID: "requisitos", Source: "requisitos.pdf",
		Content: "requisitos tarjeta", Score: 1.0, Category: "public_docs",
	}}

	result := NewReranker(Config{}).Rank(query, candidates)
	require.Len(t, result.Chunks, 1)
	assert.GreaterOrEqual(t, result.Chunks[0].Score, 0.0)
	assert.LessOrEqual(t, result.Chunks[0].Score, 1.0)
}

func TestKeywordOverlapMatchesAccentedText(t *testing.T) {
	keywords := []string{"limite", "credito"}

	accented := keywordOverlap(keywords, "El límite de crédito vigente figura al dorso.")
	plain := keywordOverlap(keywords, "El limite de credito vigente figura al dorso.")

	assert.Equal(t, 1.0, accented)
	assert.Equal(t, plain, accented)
}

func TestAccentedContentScoresLikePlainContent(t *testing.T) {
	query := queryFor("limite de credito", nil)
	r := NewReranker(Config{})

	accented := r.Rank(query, []datatypes.Chunk{{
		ID: "acc", DocID: "d", Source: "s.pdf",
		Content: "El límite de crédito se actualiza cada mes.", Score: 0.5,
	}})
	plain := r.Rank(query, []datatypes.Chunk{{
		ID: "pln", DocID: "d", Source: "s.pdf",
		Content: "El limite de credito se actualiza cada mes.", Score: 0.5,
	}})

	require.Len(t, accented.Chunks, 1)
	require.Len(t, plain.Chunks, 1)
	assert.InDelta(t, plain.Chunks[0].Score, accented.Chunks[0].Score, 1e-9)
}

func TestDedupCatchesInflectedNearDuplicates(t *testing.T) {
	query := queryFor("limite de compra", nil)

	// Same sentence up to two inflections: far apart as word sets, nearly
	// identical as character trigrams.
	candidates := []datatypes.Chunk{
		{ID: "n-1", DocID: "doc-a", Source: "manual.pdf",
			Content: "el limite diario de compra se aplica a todas las tarjetas emitidas por el banco", Score: 0.90},
		{ID: "n-2", DocID: "doc-b", Source: "copia.pdf",
			Content: "el limite diario de compras se aplican a todas las tarjetas emitidas por el banco", Score: 0.80},
	}

	result := NewReranker(Config{}).Rank(query, candidates)
	assert.Equal(t, []string{"n-1"}, result.UsedChunkIDs)
}
