// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cortexka/assistant/pkg/validation"
)

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	// Question is the user's natural-language question.
	Question string `json:"question" binding:"required,min=1,max=4000"`

	// SubjectID optionally targets a specific subject's material. Subject
	// access is resolved against the caller's assignments; an unassignable
	// subject is rejected before any retrieval happens.
	SubjectID string `json:"subject_id,omitempty"`

	// Category optionally restricts retrieval to one shared corpus.
	Category string `json:"category,omitempty" binding:"omitempty,oneof=public_docs educational"`

	// SessionID continues an existing conversation. Empty starts a new one.
	SessionID string `json:"session_id,omitempty"`

	// Id is the request identifier, generated when absent.
	Id string `json:"id,omitempty"`
}

// EnsureDefaults populates the request id when the caller omitted it.
func (r *QueryRequest) EnsureDefaults() {
	if r.Id == "" {
		r.Id = uuid.New().String()
	}
}

// EnsureSessionId returns the session id, generating one for new sessions.
func (r *QueryRequest) EnsureSessionId() string {
	if r.SessionID == "" {
		r.SessionID = "sess_" + uuid.New().String()
	}
	return r.SessionID
}

// Validate applies checks gin's binding tags cannot express. Subject
// keys end up inside retrieval filters, so their format is enforced
// here rather than trusted downstream.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question must not be blank")
	}
	if r.SubjectID != "" {
		if err := validation.ValidateSubjectKey(r.SubjectID); err != nil {
			return err
		}
	}
	return nil
}

// QueryResponse is the body of a successful POST /v1/query.
type QueryResponse struct {
	Id        string `json:"id"`
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`

	// Citations reference the chunks placed in the prompt, in prompt order.
	Citations []Citation `json:"citations,omitempty"`

	// UsedChunkIDs lists the ids of every selected chunk.
	UsedChunkIDs []string `json:"used_chunks,omitempty"`

	// MaxPIISensitivity is the maximum grade over the selected chunks.
	MaxPIISensitivity Sensitivity `json:"max_pii_sensitivity"`

	// Grounded is false when the answer was produced without any
	// retrieved evidence (snapshot-only or explicit no-answer).
	Grounded bool `json:"grounded"`
}

// ConversationTurn is one question/answer pair kept in session memory.
type ConversationTurn struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"`
}

// Message is one chat message in a generation backend request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEvent is the JSON payload of one SSE frame on the streaming
// answer endpoint. Each event carries a hash chained to the previous
// event so a client can verify nothing was dropped or reordered.
type StreamEvent struct {
	Id        string       `json:"id,omitempty"`
	Type      string       `json:"type"`
	Content   string       `json:"content,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	SessionId string       `json:"session_id,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	CreatedAt int64        `json:"created_at,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	PrevHash  string       `json:"prev_hash,omitempty"`
}
