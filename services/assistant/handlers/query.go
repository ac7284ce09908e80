// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cortexka/assistant/services/assistant/access"
	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/middleware"
	"github.com/cortexka/assistant/services/assistant/retrieval"
	"github.com/cortexka/assistant/services/assistant/services"
)

var handlerTracer = otel.Tracer("cortexka.assistant.handlers")

// QueryHandler serves the blocking answer endpoint.
type QueryHandler struct {
	svc *services.AnswerService
}

func NewQueryHandler(svc *services.AnswerService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

// HandleQuery processes POST /v1/query.
//
// # Description
//
// Binds the request, runs the answer pipeline, and maps pipeline errors
// to HTTP statuses: scope violations to 403, retrieval and generation
// outages to 503, validation trouble to 400. Error bodies carry generic
// messages; internals stay in logs and spans.
func (h *QueryHandler) HandleQuery(c *gin.Context) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "HandleQuery")
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

	resp, err := h.svc.Answer(ctx, *principal, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer failed")
		mapAnswerError(c, req.Id, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// mapAnswerError maps pipeline errors to HTTP responses. Shared by the
// blocking and streaming handlers for failures before the SSE handshake.
func mapAnswerError(c *gin.Context, requestID string, err error) {
	switch {
	case access.IsScopeViolation(err):
		slog.Warn("scope violation", "request_id", requestID, "error", err)
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case retrieval.IsUnavailable(err):
		slog.Error("retrieval unavailable", "request_id", requestID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retrieval temporarily unavailable"})
	case services.IsGenerationUnavailable(err):
		slog.Error("generation unavailable", "request_id", requestID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       "generation temporarily unavailable",
			"used_chunks": services.GetGenerationChunkIDs(err),
		})
	case strings.Contains(err.Error(), "validation failed"):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		slog.Error("answer pipeline failed", "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
