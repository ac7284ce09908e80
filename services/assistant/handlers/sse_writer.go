// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// Each event is assigned a UUID, a millisecond timestamp, a SHA-256 hash
// of its content, and the hash of the previous event. The resulting hash
// chain lets a client verify that no event was dropped or reordered in
// transit.
//
// Implementations must be safe for concurrent use; the keep-alive ticker
// and the token stream write from different goroutines.
type SSEWriter interface {
	// WriteEvent writes one event. Id, CreatedAt, Hash, and PrevHash
	// are populated here.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with a human-readable message.
	WriteStatus(message string) error

	// WriteToken writes one answer token.
	WriteToken(content string) error

	// WriteSources writes the citation list, ordered by rank.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteAnswer writes the final redacted answer as one event. Sent
	// after streaming finishes so standard-DLP clients replace the raw
	// token stream with text that has passed redaction.
	WriteAnswer(content string) error

	// WriteError writes an error event. The message must already be
	// sanitized; internal details never reach the client.
	WriteError(errMsg string) error

	// WriteDone writes the terminal event with the session id.
	WriteDone(sessionID string) error

	// WriteKeepAlive sends an SSE comment to hold the connection open
	// through load balancer idle timeouts. Comments are not part of the
	// hash chain.
	WriteKeepAlive() error
}

type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps a ResponseWriter for SSE output. The caller must
// have set the SSE headers (see SetSSEHeaders) before the first write.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every content field so the chain covers
// tokens, sources, and timestamps alike. Called before Hash is set.
func computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.SessionId,
		sourcesJSON,
	)

	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "status", Message: message})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "token", Content: content})
}

func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "sources", Sources: sources})
}

func (w *sseWriter) WriteAnswer(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "answer", Content: content})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "error", Error: errMsg})
}

func (w *sseWriter) WriteDone(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "done", SessionId: sessionID})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for SSE streaming. Must be
// called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
