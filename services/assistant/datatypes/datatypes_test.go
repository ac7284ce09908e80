// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestQueryRequestDefaults(t *testing.T) {
	req := QueryRequest{Question: "hola"}

	req.EnsureDefaults()
	assert.NotEmpty(t, req.Id)

	sessionID := req.EnsureSessionId()
	assert.True(t, strings.HasPrefix(sessionID, "sess_"))
	// Stable across calls once assigned.
	assert.Equal(t, sessionID, req.EnsureSessionId())
}

func TestQueryRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"ok", QueryRequest{Question: "¿Cuál es mi saldo?"}, false},
		{"ok with subject", QueryRequest{Question: "saldo", SubjectID: "CLI-104"}, false},
		{"blank question", QueryRequest{Question: "   "}, true},
		{"malformed subject", QueryRequest{Question: "saldo", SubjectID: "cli 104"}, true},
		{"filter injection", QueryRequest{Question: "saldo", SubjectID: `X"} operator:Like`}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxSensitivity(t *testing.T) {
	assert.Equal(t, SensitivityHigh, MaxSensitivity(SensitivityMedium, SensitivityHigh))
	assert.Equal(t, SensitivityMedium, MaxSensitivity(SensitivityMedium, SensitivityNone))
	assert.Equal(t, SensitivityNone, MaxSensitivity(SensitivityNone, SensitivityNone))
}

func TestPrincipalHasSubject(t *testing.T) {
	p := Principal{ID: "emp-1", Role: RoleEmployee, AssignedSubjects: []string{"CLI-1", "CLI-2"}}
	assert.True(t, p.HasSubject("CLI-2"))
	assert.False(t, p.HasSubject("CLI-9"))
	assert.False(t, p.HasSubject(""))
}

func TestSnapshotClone(t *testing.T) {
	orig := &Snapshot{
		SubjectKey: "CLI-1",
		FullName:   "Maria Lopez",
		Products:   []Product{{Name: "cuenta"}, {Name: "tarjeta"}},
	}
	clone := orig.Clone()
	clone.Products[0].Name = "changed"
	assert.Equal(t, "cuenta", orig.Products[0].Name)
	assert.Equal(t, orig.SubjectKey, clone.SubjectKey)
}

func TestParseGraphQLResponse(t *testing.T) {
	certainty := float32(0.87)
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"DocChunk": []any{
					map[string]any{
						"content":  "Las comisiones figuran en el manual.",
						"source":   "manual_tarjetas.pdf",
						"doc_id":   "doc-a",
						"category": "public_docs",
						"_additional": map[string]any{
							"id":        "ch-1",
							"certainty": certainty,
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[DocChunkQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.DocChunk, 1)

	chunk := parsed.Get.DocChunk[0].ToChunk(0)
	assert.Equal(t, "ch-1", chunk.ID)
	assert.Equal(t, "doc-a", chunk.DocID)
	assert.InDelta(t, 0.87, chunk.Score, 0.001)
	assert.Empty(t, chunk.Subject)
}

func TestParseGraphQLResponseNil(t *testing.T) {
	_, err := ParseGraphQLResponse[DocChunkQueryResponse](nil)
	assert.Error(t, err)
}
