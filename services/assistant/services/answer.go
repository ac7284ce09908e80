// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the answer pipeline service and its error
// types. The service wires scope resolution, query normalization,
// retrieval, classification, reranking, context assembly, generation,
// and redaction into one request flow.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/cortexka/assistant/pkg/extensions"
	"github.com/cortexka/assistant/services/assistant/access"
	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/dlp"
	"github.com/cortexka/assistant/services/assistant/memory"
	"github.com/cortexka/assistant/services/assistant/observability"
	"github.com/cortexka/assistant/services/assistant/pii"
	"github.com/cortexka/assistant/services/assistant/promptbuild"
	"github.com/cortexka/assistant/services/assistant/queryproc"
	"github.com/cortexka/assistant/services/assistant/rerank"
	"github.com/cortexka/assistant/services/assistant/retrieval"
	"github.com/cortexka/assistant/services/assistant/store"
	"github.com/cortexka/assistant/services/llm"
)

var answerTracer = otel.Tracer("cortexka.assistant.answer")

// DefaultHistoryTurns is how many prior turns feed query normalization.
const DefaultHistoryTurns = 3

// AnswerDeps carries everything an AnswerService needs. Normalizer,
// reranker, assembler, and options fall back to their defaults when nil;
// embedder, gateway, and llm client are required.
type AnswerDeps struct {
	Normalizer *queryproc.Normalizer
	Embedder   retrieval.Embedder
	Gateway    retrieval.Gateway
	Classifier *pii.Engine
	Reranker   *rerank.Reranker
	Assembler  *promptbuild.Assembler
	LLM        llm.LLMClient
	Redactor   *dlp.Redactor
	Sessions   *memory.SessionMemory
	Snapshots  *store.SnapshotStore
	Cache      *store.AnswerCache
	Metrics    *observability.Metrics
	Options    *extensions.ServiceOptions

	// RetrievalK is the candidate pool size requested from the backend.
	RetrievalK int

	// Params are passed to the generation backend on every request.
	Params llm.GenerationParams
}

// AnswerService runs the full question-to-answer pipeline. It holds no
// per-request state and is safe for concurrent use.
type AnswerService struct {
	normalizer *queryproc.Normalizer
	embedder   retrieval.Embedder
	gateway    retrieval.Gateway
	classifier *pii.Engine
	reranker   *rerank.Reranker
	assembler  *promptbuild.Assembler
	llmClient  llm.LLMClient
	redactor   *dlp.Redactor
	sessions   *memory.SessionMemory
	snapshots  *store.SnapshotStore
	cache      *store.AnswerCache
	metrics    *observability.Metrics
	opts       extensions.ServiceOptions
	retrievalK int
	params     llm.GenerationParams

	// genGroup collapses concurrent identical prompts into one backend
	// call. Generation is deterministic enough to share; completion side
	// effects stay per-request.
	genGroup singleflight.Group
}

// NewAnswerService builds the pipeline service, filling optional deps
// with defaults.
func NewAnswerService(deps AnswerDeps) (*AnswerService, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("answer service requires an embedder")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("answer service requires a retrieval gateway")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("answer service requires an llm client")
	}

	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = queryproc.NewNormalizer(queryproc.Config{})
	}
	reranker := deps.Reranker
	if reranker == nil {
		reranker = rerank.NewReranker(rerank.DefaultConfig())
	}
	assembler := deps.Assembler
	if assembler == nil {
		assembler = promptbuild.NewAssembler(promptbuild.Config{})
	}
	opts := extensions.DefaultOptions()
	if deps.Options != nil {
		if deps.Options.AuthProvider != nil {
			opts.AuthProvider = deps.Options.AuthProvider
		}
		if deps.Options.AuditLogger != nil {
			opts.AuditLogger = deps.Options.AuditLogger
		}
		if deps.Options.AnswerFilter != nil {
			opts.AnswerFilter = deps.Options.AnswerFilter
		}
	}
	retrievalK := deps.RetrievalK
	if retrievalK <= 0 {
		retrievalK = retrieval.DefaultPoolSize
	}

	return &AnswerService{
		normalizer: normalizer,
		embedder:   deps.Embedder,
		gateway:    deps.Gateway,
		classifier: deps.Classifier,
		reranker:   reranker,
		assembler:  assembler,
		llmClient:  deps.LLM,
		redactor:   deps.Redactor,
		sessions:   deps.Sessions,
		snapshots:  deps.Snapshots,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		opts:       opts,
		retrievalK: retrievalK,
		params:     deps.Params,
	}, nil
}

// PreparedAnswer is the pipeline state after context assembly, before
// generation. The streaming endpoint generates from it incrementally;
// the blocking endpoint generates in one call. Either way the answer is
// finished with CompleteAnswer.
type PreparedAnswer struct {
	RequestID string
	SessionID string
	Question  string
	Scope     datatypes.AccessScope

	Prompt       string
	Chunks       []datatypes.Chunk
	Citations    []datatypes.Citation
	UsedChunkIDs []string

	// MaxPIISensitivity is the maximum grade over the chunks that
	// entered the prompt.
	MaxPIISensitivity datatypes.Sensitivity

	// Grounded is false when no retrieved chunk made it into the prompt.
	Grounded bool
}

// Answer handles a blocking query end-to-end.
//
// # Description
//
// The flow is: resolve scope, consult the answer cache, normalize the
// question against session history, embed and retrieve, classify and
// rerank, assemble the prompt, generate, redact, and record the turn.
// Failures in session memory, snapshot loading, and classification
// degrade the answer rather than fail the request; scope, retrieval,
// and generation failures are fatal and typed.
//
// # Inputs
//
//   - ctx: Carries cancellation and tracing. Callers should set a
//     generous timeout, generation dominates latency.
//   - principal: The authenticated caller.
//   - req: The query. Modified in place to populate defaults.
//
// # Outputs
//
//   - *datatypes.QueryResponse: Answer, citations, and sensitivity.
//   - error: *access.ScopeViolationError, *retrieval.UnavailableError,
//     or *GenerationUnavailableError.
func (s *AnswerService) Answer(ctx context.Context, principal datatypes.Principal, req *datatypes.QueryRequest) (*datatypes.QueryResponse, error) {
	started := time.Now()
	ctx, span := answerTracer.Start(ctx, "AnswerService.Answer")
	defer span.End()

	// The cache is keyed by resolved scope, so resolution has to happen
	// before the lookup. Resolve is pure; PrepareAnswer repeats it on a
	// miss without extra cost.
	req.EnsureDefaults()
	if scope, scopeErr := access.Resolve(principal, req.SubjectID, req.Category); scopeErr == nil && s.cache != nil {
		if cached, cacheErr := s.cache.Get(ctx, scope, req.Question); cacheErr == nil && cached != nil {
			if s.metrics != nil {
				s.metrics.RecordCacheLookup(ctx, true)
			}
			span.SetAttributes(attribute.Bool("answer.cached", true))
			sessionID := req.EnsureSessionId()
			resp := *cached
			resp.Id = req.Id
			resp.SessionID = sessionID
			s.recordTurn(ctx, sessionID, req.Question, resp.Answer)
			s.recordOutcome(ctx, principal, nil, started)
			return &resp, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(ctx, false)
		}
	}

	prep, err := s.PrepareAnswer(ctx, principal, req)
	if err != nil {
		s.recordOutcome(ctx, principal, err, started)
		return nil, err
	}

	raw, err := s.generate(ctx, prep.Prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		genErr := &GenerationUnavailableError{
			Message:  "backend rejected the request",
			Cause:    err,
			ChunkIDs: prep.UsedChunkIDs,
		}
		s.recordOutcome(ctx, principal, genErr, started)
		return nil, genErr
	}

	resp, err := s.CompleteAnswer(ctx, principal, prep, raw)
	if err != nil {
		s.recordOutcome(ctx, principal, err, started)
		return nil, err
	}

	if s.cache != nil && resp.Grounded {
		if cacheErr := s.cache.Put(ctx, prep.Scope, req.Question, resp); cacheErr != nil {
			slog.Warn("failed to cache answer", "error", cacheErr)
		}
	}

	s.recordOutcome(ctx, principal, nil, started)
	return resp, nil
}

// generate calls the backend, deduplicating in-flight identical
// prompts. The losing callers inherit the winner's result; the winner's
// context governs cancellation.
func (s *AnswerService) generate(ctx context.Context, prompt string) (string, error) {
	sum := sha256.Sum256([]byte(prompt))
	result, err, _ := s.genGroup.Do(hex.EncodeToString(sum[:]), func() (any, error) {
		return s.llmClient.Generate(ctx, prompt, s.params)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// PrepareAnswer runs the pipeline up to and including context assembly.
func (s *AnswerService) PrepareAnswer(ctx context.Context, principal datatypes.Principal, req *datatypes.QueryRequest) (*PreparedAnswer, error) {
	ctx, span := answerTracer.Start(ctx, "AnswerService.PrepareAnswer")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	scope, err := access.Resolve(principal, req.SubjectID, req.Category)
	if err != nil {
		span.SetStatus(codes.Error, "scope violation")
		if s.metrics != nil {
			s.metrics.ScopeViolationsTotal.Add(ctx, 1)
		}
		s.audit(ctx, extensions.AuditEvent{
			EventType:   "scope.denied",
			PrincipalID: principal.ID,
			Subject:     req.SubjectID,
			Outcome:     "denied",
		})
		return nil, err
	}

	sessionID := req.EnsureSessionId()
	span.SetAttributes(
		attribute.String("request.id", req.Id),
		attribute.String("session.id", sessionID),
		attribute.String("scope.subject", scope.Subject),
		attribute.String("scope.category", scope.Category),
	)

	history := s.loadHistory(ctx, sessionID)
	query := s.normalizer.Normalize(req.Question, history)

	vector, err := s.embedder.Embed(ctx, query.EmbeddingText())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "embedder")
		}
		return nil, &retrieval.UnavailableError{Message: "embedding failed", Cause: err}
	}

	retrieveStart := time.Now()
	candidates, err := s.gateway.Retrieve(ctx, vector, s.retrievalK, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "retrieval")
		}
		return nil, err
	}
	candidates = retrieval.ExpandPool(ctx, s.embedder, s.gateway, query.Variants, s.retrievalK, scope, candidates)
	if s.metrics != nil {
		s.metrics.RecordRetrieval(ctx, time.Since(retrieveStart), len(candidates))
	}
	candidates = s.enforceScope(ctx, candidates, scope)

	s.classifyChunks(ctx, candidates)
	ranked := s.reranker.Rank(query, candidates)
	if s.metrics != nil {
		s.metrics.ChunksSelected.Record(ctx, int64(len(ranked.Chunks)))
	}
	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(candidates)),
		attribute.Int("rerank.selected", len(ranked.Chunks)),
	)

	snapshot := s.loadSnapshot(ctx, principal, scope)
	assembled := s.assembler.Build(req.Question, ranked.Chunks, snapshot, query.FullList)

	// Used chunks, citations, and the sensitivity grade all describe the
	// prompt that was actually built. When the budget truncated the
	// selection, the dropped chunks are not reported as used.
	usedIDs := make([]string, 0, len(assembled.Chunks))
	maxSensitivity := datatypes.SensitivityNone
	for _, c := range assembled.Chunks {
		usedIDs = append(usedIDs, c.ID)
		maxSensitivity = datatypes.MaxSensitivity(maxSensitivity, c.PII.Sensitivity)
	}

	return &PreparedAnswer{
		RequestID:         req.Id,
		SessionID:         sessionID,
		Question:          req.Question,
		Scope:             scope,
		Prompt:            assembled.Prompt,
		Chunks:            assembled.Chunks,
		Citations:         assembled.Citations,
		UsedChunkIDs:      usedIDs,
		MaxPIISensitivity: maxSensitivity,
		Grounded:          len(assembled.Chunks) > 0,
	}, nil
}

// StreamGenerate runs generation for a prepared answer, delivering
// events to the callback. When the backend cannot stream, the whole
// answer is delivered as a single token event followed by done.
//
// Streamed tokens are raw model output; callers are responsible for
// withholding them from standard-DLP clients until CompleteAnswer has
// produced the redacted text.
func (s *AnswerService) StreamGenerate(ctx context.Context, prep *PreparedAnswer, callback llm.StreamCallback) error {
	ctx, span := answerTracer.Start(ctx, "AnswerService.StreamGenerate")
	defer span.End()

	if streamer, ok := s.llmClient.(llm.StreamingLLMClient); ok {
		if err := streamer.GenerateStream(ctx, prep.Prompt, s.params, callback); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			return &GenerationUnavailableError{
				Message:  "stream failed",
				Cause:    err,
				ChunkIDs: prep.UsedChunkIDs,
			}
		}
		return nil
	}

	raw, err := s.llmClient.Generate(ctx, prep.Prompt, s.params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return &GenerationUnavailableError{
			Message:  "backend rejected the request",
			Cause:    err,
			ChunkIDs: prep.UsedChunkIDs,
		}
	}
	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: raw}); err != nil {
		return err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

// CompleteAnswer turns raw model output into the delivered response:
// redaction per the scope's DLP level, the answer filter hook, session
// memory, and the audit trail.
func (s *AnswerService) CompleteAnswer(ctx context.Context, principal datatypes.Principal, prep *PreparedAnswer, raw string) (*datatypes.QueryResponse, error) {
	ctx, span := answerTracer.Start(ctx, "AnswerService.CompleteAnswer")
	defer span.End()

	answer := raw
	if s.redactor != nil {
		answer = s.redactor.Redact(raw, prep.Scope.DLPLevel)
		if answer != raw && s.metrics != nil {
			s.metrics.RedactionsTotal.Add(ctx, 1)
		}
	}

	filtered, err := s.opts.AnswerFilter.FilterAnswer(ctx, &principal, answer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer filter failed")
		return nil, fmt.Errorf("answer filter failed: %w", err)
	}

	resp := &datatypes.QueryResponse{
		Id:                prep.RequestID,
		Answer:            filtered,
		SessionID:         prep.SessionID,
		Citations:         prep.Citations,
		UsedChunkIDs:      prep.UsedChunkIDs,
		MaxPIISensitivity: prep.MaxPIISensitivity,
		Grounded:          prep.Grounded,
	}

	s.recordTurn(ctx, prep.SessionID, prep.Question, filtered)
	s.audit(ctx, extensions.AuditEvent{
		EventType:   "query.answered",
		PrincipalID: principal.ID,
		Subject:     prep.Scope.Subject,
		Outcome:     "success",
		Metadata: map[string]any{
			"chunks":      len(prep.Chunks),
			"grounded":    prep.Grounded,
			"sensitivity": prep.MaxPIISensitivity.String(),
		},
	})

	return resp, nil
}

// SubjectSnapshot serves the snapshot endpoint: resolve scope, load the
// stored record, and mask per the viewer's role. Absence is not an
// error; the handler maps a nil snapshot to 404.
func (s *AnswerService) SubjectSnapshot(ctx context.Context, principal datatypes.Principal, subjectID string) (*datatypes.Snapshot, error) {
	scope, err := access.Resolve(principal, subjectID, "")
	if err != nil {
		s.audit(ctx, extensions.AuditEvent{
			EventType:   "snapshot.denied",
			PrincipalID: principal.ID,
			Subject:     subjectID,
			Outcome:     "denied",
		})
		return nil, err
	}
	if scope.Subject == "" || s.snapshots == nil {
		return nil, nil
	}
	snap, err := s.snapshots.Get(ctx, scope.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		return nil, nil
	}
	s.audit(ctx, extensions.AuditEvent{
		EventType:   "snapshot.read",
		PrincipalID: principal.ID,
		Subject:     scope.Subject,
		Outcome:     "success",
	})
	return pii.SnapshotFor(principal, snap), nil
}

// enforceScope re-checks the scope predicate the backend filter already
// applied. A chunk outside the scope at this point means a filter or schema
// defect; it is dropped and counted rather than trusted.
func (s *AnswerService) enforceScope(ctx context.Context, chunks []datatypes.Chunk, scope datatypes.AccessScope) []datatypes.Chunk {
	kept := chunks[:0]
	dropped := 0
	for _, c := range chunks {
		if c.Subject != "" && c.Subject != scope.Subject {
			dropped++
			continue
		}
		if scope.Category != "" && c.Category != "" && c.Category != scope.Category {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	if dropped > 0 {
		slog.Warn("Dropped out-of-scope chunks after retrieval",
			"dropped", dropped, "subject", scope.Subject, "category", scope.Category)
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "scope_postfilter")
		}
	}
	return kept
}

// classifyChunks populates each chunk's PII grade in place. A missing
// classifier degrades to unclassified chunks; retrieval results are
// never discarded over classification trouble.
func (s *AnswerService) classifyChunks(ctx context.Context, chunks []datatypes.Chunk) {
	if s.classifier == nil {
		if len(chunks) > 0 {
			slog.Warn("pii classifier unavailable, chunks carry no sensitivity grade")
			if s.metrics != nil {
				s.metrics.ClassifierFailuresTotal.Add(ctx, int64(len(chunks)))
			}
		}
		return
	}
	for i := range chunks {
		chunks[i].PII = s.classifier.Classify(chunks[i].Content)
	}
}

// loadHistory fetches recent turns, degrading to an empty history.
func (s *AnswerService) loadHistory(ctx context.Context, sessionID string) []datatypes.ConversationTurn {
	if s.sessions == nil {
		return nil
	}
	history, err := s.sessions.RecentTurns(ctx, sessionID, DefaultHistoryTurns)
	if err != nil {
		slog.Warn("failed to load session history", "session_id", sessionID, "error", err)
		return nil
	}
	return history
}

// loadSnapshot fetches and masks the scoped subject's record. Absence
// and load failures both degrade to a context without a snapshot.
func (s *AnswerService) loadSnapshot(ctx context.Context, principal datatypes.Principal, scope datatypes.AccessScope) *datatypes.Snapshot {
	if s.snapshots == nil || scope.Subject == "" {
		return nil
	}
	snap, err := s.snapshots.Get(ctx, scope.Subject)
	if err != nil {
		slog.Warn("failed to load subject snapshot", "subject", scope.Subject, "error", err)
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "snapshot")
		}
		return nil
	}
	if snap == nil {
		return nil
	}
	return pii.SnapshotFor(principal, snap)
}

func (s *AnswerService) recordTurn(ctx context.Context, sessionID, question, answer string) {
	if s.sessions == nil {
		return
	}
	turn := datatypes.ConversationTurn{Question: question, Answer: answer}
	if err := s.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
		slog.Warn("failed to record conversation turn", "session_id", sessionID, "error", err)
	}
}

func (s *AnswerService) audit(ctx context.Context, event extensions.AuditEvent) {
	if err := s.opts.AuditLogger.Log(ctx, event); err != nil {
		slog.Warn("audit log failed", "event_type", event.EventType, "error", err)
	}
}

func (s *AnswerService) recordOutcome(ctx context.Context, principal datatypes.Principal, err error, started time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case access.IsScopeViolation(err):
		outcome = "scope_violation"
	case retrieval.IsUnavailable(err):
		outcome = "retrieval_unavailable"
	case IsGenerationUnavailable(err):
		outcome = "generation_unavailable"
	default:
		outcome = "error"
	}
	s.metrics.RecordAnswer(ctx, string(principal.Role), outcome, time.Since(started))
}
