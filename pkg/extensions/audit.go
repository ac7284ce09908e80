// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is one security-relevant event. Events carry identifiers
// only, never question or answer text, so the audit trail itself cannot
// leak customer data.
//
// EventType uses "category.action" form, e.g. "scope.denied",
// "query.answered", "snapshot.read".
type AuditEvent struct {
	EventType string

	// Timestamp is when the event occurred, in UTC. Implementations set
	// it to time.Now().UTC() when zero.
	Timestamp time.Time

	// PrincipalID identifies who performed the action. "system" for
	// automated actions.
	PrincipalID string

	// Subject is the subject key the action was scoped to, if any.
	Subject string

	// Outcome is one of "success", "denied", "degraded", "error".
	Outcome string

	// Metadata holds event-specific detail such as chunk counts or
	// upstream error strings.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use and should not block
// request handling; drop or buffer under pressure rather than stall.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events to a structured logger. This is the
// default for single-node deployments; SIEM-backed implementations
// replace it in production.
type SlogAuditLogger struct {
	log *slog.Logger
}

func NewSlogAuditLogger(log *slog.Logger) *SlogAuditLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogAuditLogger{log: log}
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.log.InfoContext(ctx, "audit event",
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"principal_id", event.PrincipalID,
		"subject", event.Subject,
		"outcome", event.Outcome,
		"metadata", event.Metadata,
	)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
