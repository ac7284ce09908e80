// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"
)

// Sensitivity is the PII sensitivity grade attached to a chunk or answer.
// Ordering matters: None < Medium < High.
type Sensitivity int

const (
	SensitivityNone Sensitivity = iota
	SensitivityMedium
	SensitivityHigh
)

// String returns the wire representation used in responses and logs.
func (s Sensitivity) String() string {
	switch s {
	case SensitivityHigh:
		return "high"
	case SensitivityMedium:
		return "medium"
	default:
		return "none"
	}
}

// MarshalJSON encodes the sensitivity as its string form.
func (s Sensitivity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (s *Sensitivity) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v {
	case "high":
		*s = SensitivityHigh
	case "medium":
		*s = SensitivityMedium
	case "none":
		*s = SensitivityNone
	default:
		return fmt.Errorf("unknown sensitivity %q", v)
	}
	return nil
}

// MaxSensitivity returns the higher of two grades.
func MaxSensitivity(a, b Sensitivity) Sensitivity {
	if b > a {
		return b
	}
	return a
}

// ChunkPII holds the classifier output for a single chunk.
type ChunkPII struct {
	// Types lists the detected PII type names (e.g. "email", "card").
	Types []string `json:"types,omitempty"`

	// Sensitivity is derived from Types: high when a payment card or two
	// or more distinct types are present, medium for exactly one type.
	Sensitivity Sensitivity `json:"sensitivity"`
}

// Chunk is one retrievable unit of document text as returned by the
// vector store and carried through classification, reranking, and
// context assembly.
type Chunk struct {
	// ID uniquely identifies the chunk within the corpus.
	ID string `json:"id"`

	// DocID identifies the parent document. Per-document selection caps
	// group by this field.
	DocID string `json:"doc_id"`

	// Source is the human-readable origin (filename or document title).
	Source string `json:"source"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Subject is the owning subject key, or empty for shared material.
	Subject string `json:"subject,omitempty"`

	// Category tags shared material ("public_docs", "educational").
	Category string `json:"category,omitempty"`

	// Score is the raw retrieval similarity in [0, 1].
	Score float64 `json:"score"`

	// Position is the chunk's index in the original retrieval order.
	// Used as the first tie-breaker during reranking.
	Position int `json:"-"`

	// PII is populated by the classifier stage. Zero value means the
	// chunk was classified clean (or classification degraded).
	PII ChunkPII `json:"pii,omitempty"`
}

// SourceInfo is the public projection of a selected chunk used in SSE
// sources events and citation lists.
type SourceInfo struct {
	Source string  `json:"source"`
	Score  float64 `json:"score,omitempty"`
}

// Citation points a generated answer back at one selected chunk. The
// order of citations matches the order chunks appeared in the prompt.
type Citation struct {
	ChunkID string `json:"chunk_id"`
	Source  string `json:"source"`
}
