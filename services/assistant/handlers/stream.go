// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/middleware"
	"github.com/cortexka/assistant/services/assistant/services"
	"github.com/cortexka/assistant/services/llm"
)

// keepAliveInterval is how often an SSE comment is sent while waiting on
// slow stages. Below common load balancer idle timeouts (60s).
const keepAliveInterval = 15 * time.Second

// StreamHandler serves the streaming answer endpoint.
type StreamHandler struct {
	svc *services.AnswerService
}

func NewStreamHandler(svc *services.AnswerService) *StreamHandler {
	return &StreamHandler{svc: svc}
}

// HandleQueryStream processes POST /v1/query/stream with SSE output.
//
// # Description
//
// The pipeline runs up to context assembly before the SSE handshake, so
// scope violations and retrieval outages still surface as plain HTTP
// statuses. After the handshake the event order is: status, sources,
// status, tokens (privileged callers only), answer, done.
//
// Raw model output can contain identifiers that redaction must remove,
// so tokens are streamed live only to privileged callers. Standard
// callers get keep-alives and status events while generation runs, then
// the full redacted answer in one event. Every streamed token is also
// accumulated in mlocked memory; the accumulated text is what redaction
// and session memory operate on.
//
// # Limitations
//
//   - Streamed answers bypass the answer cache.
func (h *StreamHandler) HandleQueryStream(c *gin.Context) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "HandleQueryStream")
	defer span.End()

	principal := middleware.GetPrincipal(c)
	if principal == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	span.SetAttributes(attribute.String("principal.id", principal.ID))

	var req datatypes.QueryRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	prep, err := h.svc.PrepareAnswer(ctx, *principal, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		mapAnswerError(c, req.Id, err)
		return
	}
	span.SetAttributes(
		attribute.String("request.id", prep.RequestID),
		attribute.Int("rerank.selected", len(prep.Chunks)),
	)

	accumulator, err := NewTokenAccumulator()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accumulator unavailable")
		slog.Error("failed to allocate token accumulator", "request_id", prep.RequestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unavailable"})
		return
	}
	defer accumulator.Destroy()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if err := writer.WriteStatus("Searching documents..."); err != nil {
		return
	}
	if err := writer.WriteSources(sourceInfos(prep.Chunks)); err != nil {
		return
	}
	if err := writer.WriteStatus("Generating answer..."); err != nil {
		return
	}

	heartbeatDone := make(chan struct{})
	go runHeartbeat(ctx, writer, heartbeatDone)

	// Token events leave the service before redaction can run, so only
	// privileged callers see them live.
	streamLive := prep.Scope.DLPLevel == datatypes.DLPPrivileged

	streamErr := h.svc.StreamGenerate(ctx, prep, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			if err := accumulator.Write(ev.Content); err != nil {
				return err
			}
			if streamLive {
				return writer.WriteToken(ev.Content)
			}
			return nil
		case llm.StreamEventError:
			return errors.New(ev.Error)
		default:
			return nil
		}
	})
	close(heartbeatDone)

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "stream failed")
		if errors.Is(streamErr, context.Canceled) {
			slog.Info("client disconnected mid-stream", "request_id", prep.RequestID)
			return
		}
		slog.Error("answer stream failed", "request_id", prep.RequestID, "error", streamErr)
		_ = writer.WriteError("generation temporarily unavailable")
		return
	}

	raw, answerHash, err := accumulator.Finalize()
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to finalize streamed answer", "request_id", prep.RequestID, "error", err)
		_ = writer.WriteError("internal error")
		return
	}

	resp, err := h.svc.CompleteAnswer(ctx, *principal, prep, raw)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to complete streamed answer", "request_id", prep.RequestID, "error", err)
		_ = writer.WriteError("internal error")
		return
	}
	slog.Debug("streamed answer finalized",
		"request_id", prep.RequestID,
		"answer_hash", answerHash,
		"grounded", resp.Grounded,
	)

	if err := writer.WriteAnswer(resp.Answer); err != nil {
		return
	}
	_ = writer.WriteDone(resp.SessionID)
}

// runHeartbeat emits keep-alive comments until done closes or the
// request context ends.
func runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func sourceInfos(chunks []datatypes.Chunk) []datatypes.SourceInfo {
	sources := make([]datatypes.SourceInfo, 0, len(chunks))
	for _, ch := range chunks {
		sources = append(sources, datatypes.SourceInfo{Source: ch.Source, Score: ch.Score})
	}
	return sources
}
