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

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// DocChunk Query Types
// =============================================================================

// DocChunkQueryResponse represents the response from querying the DocChunk
// class.
type DocChunkQueryResponse struct {
	Get struct {
		DocChunk []DocChunkResult `json:"DocChunk"`
	} `json:"Get"`
}

// DocChunkResult represents a single document chunk from a query.
type DocChunkResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	DocID      string `json:"doc_id"`
	Subject    string `json:"subject"`
	Category   string `json:"category"`
	Additional struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// ToChunk converts a query result to the pipeline's Chunk representation.
// Certainty (always in [0, 1]) is preferred over distance, which varies by
// metric.
func (r *DocChunkResult) ToChunk(position int) Chunk {
	score := 0.0
	if r.Additional.Certainty != nil {
		score = float64(*r.Additional.Certainty)
	}
	return Chunk{
		ID:       r.Additional.ID,
		DocID:    r.DocID,
		Source:   r.Source,
		Content:  r.Content,
		Subject:  r.Subject,
		Category: r.Category,
		Score:    score,
		Position: position,
	}
}
