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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cortexka/assistant/services/assistant/access"
	"github.com/cortexka/assistant/services/assistant/middleware"
	"github.com/cortexka/assistant/services/assistant/services"
)

// SnapshotHandler serves GET /v1/subjects/:id/snapshot. The returned
// record is masked per the viewer's role before it leaves the service.
type SnapshotHandler struct {
	svc *services.AnswerService
}

func NewSnapshotHandler(svc *services.AnswerService) *SnapshotHandler {
	return &SnapshotHandler{svc: svc}
}

func (h *SnapshotHandler) HandleSnapshot(c *gin.Context) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "HandleSnapshot")
	defer span.End()

	principal := middleware.GetPrincipal(c)
	if principal == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	subjectID := c.Param("id")
	span.SetAttributes(
		attribute.String("principal.id", principal.ID),
		attribute.String("subject.id", subjectID),
	)

	snap, err := h.svc.SubjectSnapshot(ctx, *principal, subjectID)
	if err != nil {
		span.RecordError(err)
		if access.IsScopeViolation(err) {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		slog.Error("snapshot lookup failed", "subject_id", subjectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	c.JSON(http.StatusOK, snap)
}
