// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexka/assistant/services/assistant/access"
	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/dlp"
	"github.com/cortexka/assistant/services/assistant/memory"
	"github.com/cortexka/assistant/services/assistant/pii"
	"github.com/cortexka/assistant/services/assistant/promptbuild"
	"github.com/cortexka/assistant/services/assistant/queryproc"
	"github.com/cortexka/assistant/services/assistant/retrieval"
	"github.com/cortexka/assistant/services/assistant/store"
	"github.com/cortexka/assistant/services/llm"
)

type stubEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubGateway struct {
	mu     sync.Mutex
	chunks []datatypes.Chunk
	err    error
	calls  int
	scope  datatypes.AccessScope
}

func (g *stubGateway) Retrieve(_ context.Context, _ []float32, _ int, scope datatypes.AccessScope) ([]datatypes.Chunk, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.scope = scope
	if g.err != nil {
		return nil, g.err
	}
	return g.chunks, nil
}

type stubLLM struct {
	answer string
	err    error
	calls  int
	prompt string
}

func (l *stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	l.calls++
	l.prompt = prompt
	if l.err != nil {
		return "", l.err
	}
	return l.answer, nil
}

type stubStreamLLM struct {
	stubLLM
	tokens []string
}

func (l *stubStreamLLM) GenerateStream(_ context.Context, prompt string, _ llm.GenerationParams, callback llm.StreamCallback) error {
	l.calls++
	l.prompt = prompt
	if l.err != nil {
		return l.err
	}
	for _, tok := range l.tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func testChunks() []datatypes.Chunk {
	return []datatypes.Chunk{
		{ID: "ch-1", DocID: "doc-a", Source: "manual_tarjetas.pdf", Content: "Las comisiones de la tarjeta de credito se detallan en el manual oficial del producto.", Category: "public_docs", Score: 0.91},
		{ID: "ch-2", DocID: "doc-b", Source: "resumen_cliente.pdf", Content: "El cliente mantiene una tarjeta activa con limite vigente y sin deuda pendiente este mes.", Subject: "CLI-9", Score: 0.84},
		{ID: "ch-3", DocID: "doc-a", Source: "manual_tarjetas.pdf", Content: "La renovacion anual del plastico no tiene costo durante el primer ano de vigencia.", Category: "public_docs", Score: 0.78},
	}
}

func testService(t *testing.T, gateway *stubGateway, client llm.LLMClient) (*AnswerService, *store.DB) {
	t.Helper()
	db, err := store.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine, err := pii.NewEngine()
	require.NoError(t, err)

	svc, err := NewAnswerService(AnswerDeps{
		Embedder:   &stubEmbedder{},
		Gateway:    gateway,
		Classifier: engine,
		LLM:        client,
		Redactor:   dlp.NewRedactor(engine),
		Sessions:   memory.NewSessionMemory(db, 0, 0),
		Snapshots:  store.NewSnapshotStore(db),
		Cache:      store.NewAnswerCache(db, 0),
	})
	require.NoError(t, err)
	return svc, db
}

func customerPrincipal() datatypes.Principal {
	return datatypes.Principal{
		ID:               "cust-9",
		Role:             datatypes.RoleCustomer,
		AssignedSubjects: []string{"CLI-9"},
		DLPLevel:         datatypes.DLPStandard,
	}
}

func TestAnswer_EndToEnd(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "Puede contactarnos al 11.222.333 para mas detalle."}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones de la tarjeta?"}
	resp, err := svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	assert.True(t, resp.Grounded)
	assert.NotEmpty(t, resp.Id)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, "CLI-9", gateway.scope.Subject)

	// Citations mirror the chunks placed in the prompt.
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, "ch-1", resp.Citations[0].ChunkID)
	assert.Equal(t, len(resp.UsedChunkIDs), len(resp.Citations))

	// Standard DLP replaced the dotted identifier in the answer.
	assert.NotContains(t, resp.Answer, "11.222.333")
	assert.Contains(t, resp.Answer, "<national-id-redacted>")
}

func TestAnswer_CacheHitSkipsPipeline(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "Las comisiones figuran en el manual."}
	svc, _ := testService(t, gateway, client)

	principal := customerPrincipal()
	first := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones de la tarjeta?"}
	resp1, err := svc.Answer(context.Background(), principal, first)
	require.NoError(t, err)
	require.True(t, resp1.Grounded)

	second := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones de la tarjeta?"}
	resp2, err := svc.Answer(context.Background(), principal, second)
	require.NoError(t, err)

	assert.Equal(t, resp1.Answer, resp2.Answer)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, gateway.calls)
}

func TestAnswer_ScopeViolationBeforeRetrieval(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "no"}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "saldo", SubjectID: "CLI-1"}
	_, err := svc.Answer(context.Background(), customerPrincipal(), req)

	require.Error(t, err)
	assert.True(t, access.IsScopeViolation(err))
	assert.Equal(t, 0, gateway.calls)
	assert.Equal(t, 0, client.calls)
}

func TestAnswer_RetrievalFailure(t *testing.T) {
	gateway := &stubGateway{err: &retrieval.UnavailableError{Message: "weaviate down"}}
	client := &stubLLM{answer: "no"}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "comisiones"}
	_, err := svc.Answer(context.Background(), customerPrincipal(), req)

	require.Error(t, err)
	assert.True(t, retrieval.IsUnavailable(err))
	assert.Equal(t, 0, client.calls)
}

func TestAnswer_GenerationFailurePreservesChunkIDs(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{err: errors.New("model offline")}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones de la tarjeta?"}
	_, err := svc.Answer(context.Background(), customerPrincipal(), req)

	require.Error(t, err)
	assert.True(t, IsGenerationUnavailable(err))
	assert.NotEmpty(t, GetGenerationChunkIDs(err))
}

func TestAnswer_EmptyCandidatesUngrounded(t *testing.T) {
	gateway := &stubGateway{chunks: nil}
	client := &stubLLM{answer: "No tengo documentos sobre eso."}
	svc, db := testService(t, gateway, client)

	require.NoError(t, store.NewSnapshotStore(db).Put(context.Background(), &datatypes.Snapshot{
		SubjectKey: "CLI-9",
		FullName:   "Maria Lopez",
		Email:      "maria@example.com",
	}))

	req := &datatypes.QueryRequest{Question: "¿Cuál es mi último movimiento?"}
	resp, err := svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	assert.False(t, resp.Grounded)
	assert.Empty(t, resp.Citations)
	assert.Empty(t, resp.UsedChunkIDs)
	// The snapshot still reached the prompt.
	assert.Contains(t, client.prompt, "Maria Lopez")

	// Ungrounded answers are not cached.
	again := &datatypes.QueryRequest{Question: "¿Cuál es mi último movimiento?"}
	_, err = svc.Answer(context.Background(), customerPrincipal(), again)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestAnswer_PrivilegedBypassesRedaction(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "El documento del cliente es 12.345.678."}
	svc, _ := testService(t, gateway, client)

	principal := datatypes.Principal{
		ID:       "admin-1",
		Role:     datatypes.RoleAdmin,
		DLPLevel: datatypes.DLPPrivileged,
	}
	req := &datatypes.QueryRequest{Question: "documento del cliente", SubjectID: "CLI-9"}
	resp, err := svc.Answer(context.Background(), principal, req)
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "12.345.678")
}

func TestAnswer_SensitivityFromChunks(t *testing.T) {
	chunks := testChunks()
	chunks[1].Content = "La tarjeta del cliente numero 4111 1111 1111 1111 sigue activa y vigente este periodo."
	gateway := &stubGateway{chunks: chunks}
	client := &stubLLM{answer: "La tarjeta sigue activa."}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones de la tarjeta?"}
	resp, err := svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	assert.Equal(t, datatypes.SensitivityHigh, resp.MaxPIISensitivity)
}

func TestAnswer_SessionHistoryRecorded(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "Las comisiones figuran en el manual."}
	svc, db := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones?", SessionID: "sess_fixed"}
	_, err := svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	turns, err := memory.NewSessionMemory(db, 0, 0).RecentTurns(context.Background(), "sess_fixed", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "¿Cuáles son las comisiones?", turns[0].Question)
	assert.Equal(t, "Las comisiones figuran en el manual.", turns[0].Answer)
}

func TestStreamGenerate_DeliversTokensThenDone(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubStreamLLM{stubLLM: stubLLM{}, tokens: []string{"Las ", "comisiones."}}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones?"}
	prep, err := svc.PrepareAnswer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	var got []llm.StreamEvent
	err = svc.StreamGenerate(context.Background(), prep, func(ev llm.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, llm.StreamEventToken, got[0].Type)
	assert.Equal(t, llm.StreamEventDone, got[2].Type)
}

func TestStreamGenerate_NonStreamingFallback(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "respuesta completa"}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones?"}
	prep, err := svc.PrepareAnswer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	var got []llm.StreamEvent
	err = svc.StreamGenerate(context.Background(), prep, func(ev llm.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "respuesta completa", got[0].Content)
	assert.Equal(t, llm.StreamEventDone, got[1].Type)
}

func TestCompleteAnswer_RedactsAccumulatedStream(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubStreamLLM{tokens: []string{"Su documento es ", "12.345.678."}}
	svc, _ := testService(t, gateway, client)

	principal := customerPrincipal()
	req := &datatypes.QueryRequest{Question: "¿Cuál es mi documento?"}
	prep, err := svc.PrepareAnswer(context.Background(), principal, req)
	require.NoError(t, err)

	resp, err := svc.CompleteAnswer(context.Background(), principal, prep, "Su documento es 12.345.678.")
	require.NoError(t, err)

	assert.NotContains(t, resp.Answer, "12.345.678")
	assert.Contains(t, resp.Answer, "<national-id-redacted>")
	assert.Equal(t, prep.UsedChunkIDs, resp.UsedChunkIDs)
}

func TestSubjectSnapshot_MaskedPerViewer(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "ok"}
	svc, db := testService(t, gateway, client)

	require.NoError(t, store.NewSnapshotStore(db).Put(context.Background(), &datatypes.Snapshot{
		SubjectKey: "CLI-9",
		FullName:   "Maria Lopez",
		NationalID: "12.345.678",
		Email:      "maria@example.com",
	}))

	employee := datatypes.Principal{
		ID:               "emp-7",
		Role:             datatypes.RoleEmployee,
		AssignedSubjects: []string{"CLI-9"},
		DLPLevel:         datatypes.DLPStandard,
	}
	snap, err := svc.SubjectSnapshot(context.Background(), employee, "CLI-9")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "**.***.678", snap.NationalID)

	owner := customerPrincipal()
	own, err := svc.SubjectSnapshot(context.Background(), owner, "CLI-9")
	require.NoError(t, err)
	require.NotNil(t, own)
	assert.Equal(t, "12.345.678", own.NationalID)

	foreign := datatypes.Principal{
		ID:               "cust-2",
		Role:             datatypes.RoleCustomer,
		AssignedSubjects: []string{"CLI-2"},
	}
	_, err = svc.SubjectSnapshot(context.Background(), foreign, "CLI-9")
	require.Error(t, err)
	assert.True(t, access.IsScopeViolation(err))
}

func TestSubjectSnapshot_AbsentIsNil(t *testing.T) {
	gateway := &stubGateway{chunks: testChunks()}
	client := &stubLLM{answer: "ok"}
	svc, _ := testService(t, gateway, client)

	snap, err := svc.SubjectSnapshot(context.Background(), customerPrincipal(), "CLI-9")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAnswer_OutOfScopeChunksAreDropped(t *testing.T) {
	chunks := append(testChunks(), datatypes.Chunk{
		ID: "ch-leak", DocID: "doc-x", Source: "otro_cliente.pdf",
		Content: "Detalle reservado de otra persona.", Subject: "CLI-2", Score: 0.95,
	})
	gateway := &stubGateway{chunks: chunks}
	client := &stubLLM{answer: "ok"}
	svc, _ := testService(t, gateway, client)

	req := &datatypes.QueryRequest{Question: "¿Cuáles son las comisiones de la tarjeta?"}
	resp, err := svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	assert.NotContains(t, resp.UsedChunkIDs, "ch-leak")
	assert.NotContains(t, client.prompt, "otra persona")
}

func TestAnswer_VariantFanoutWidensPool(t *testing.T) {
	db, err := store.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	engine, err := pii.NewEngine()
	require.NoError(t, err)

	gateway := &stubGateway{chunks: testChunks()}
	embedder := &stubEmbedder{}
	client := &stubLLM{answer: "ok"}
	svc, err := NewAnswerService(AnswerDeps{
		Embedder: embedder,
		Gateway:  gateway,
		Normalizer: queryproc.NewNormalizer(queryproc.Config{
			Synonyms: map[string][]string{"comisiones": {"cargos"}},
		}),
		Classifier: engine,
		LLM:        client,
		Redactor:   dlp.NewRedactor(engine),
		Sessions:   memory.NewSessionMemory(db, 0, 0),
		Snapshots:  store.NewSnapshotStore(db),
		Cache:      store.NewAnswerCache(db, 0),
	})
	require.NoError(t, err)

	req := &datatypes.QueryRequest{Question: "comisiones de mantenimiento"}
	_, err = svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	// One primary search plus one per synonym variant.
	assert.Equal(t, 2, gateway.calls)
	assert.Equal(t, 2, embedder.calls)
}

func TestAnswer_UsedChunksReflectPromptTruncation(t *testing.T) {
	db, err := store.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	engine, err := pii.NewEngine()
	require.NoError(t, err)

	gateway := &stubGateway{chunks: []datatypes.Chunk{
		{ID: "ch-1", DocID: "doc-a", Source: "tasas.pdf", Content: strings.Repeat("la tasa nominal vigente ", 55), Category: "public_docs", Score: 0.9},
		{ID: "ch-2", DocID: "doc-b", Source: "cierres.pdf", Content: strings.Repeat("fecha de cierre del resumen ", 48), Category: "public_docs", Score: 0.8},
		{ID: "ch-3", DocID: "doc-c", Source: "costos.pdf", Content: strings.Repeat("costo por renovacion anual ", 50), Category: "public_docs", Score: 0.7},
	}}
	client := &stubLLM{answer: "ok"}
	svc, err := NewAnswerService(AnswerDeps{
		Embedder:   &stubEmbedder{},
		Gateway:    gateway,
		Classifier: engine,
		LLM:        client,
		Redactor:   dlp.NewRedactor(engine),
		Assembler:  promptbuild.NewAssembler(promptbuild.Config{MaxPromptChars: 2500}),
		Sessions:   memory.NewSessionMemory(db, 0, 0),
		Snapshots:  store.NewSnapshotStore(db),
		Cache:      store.NewAnswerCache(db, 0),
	})
	require.NoError(t, err)

	req := &datatypes.QueryRequest{Question: "¿Cuál es la tasa nominal vigente?"}
	resp, err := svc.Answer(context.Background(), customerPrincipal(), req)
	require.NoError(t, err)

	// Only the top-ranked chunk fits the prompt budget; the used list and
	// the citations must both describe the prompt that was sent.
	assert.Equal(t, []string{"ch-1"}, resp.UsedChunkIDs)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "ch-1", resp.Citations[0].ChunkID)
	assert.NotContains(t, client.prompt, "fecha de cierre")
}
