// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("cortexka.assistant.retrieval")

// DefaultPoolSize is the retrieval fan-out. Deliberately much larger than
// the final answer set so the reranker has recall headroom to dedup and cap
// against.
const DefaultPoolSize = 80

// ChunkClass is the Weaviate class holding document chunks.
const ChunkClass = "DocChunk"

// Gateway issues a scoped vector search and returns raw candidate chunks.
type Gateway interface {
	Retrieve(ctx context.Context, vector []float32, k int, scope datatypes.AccessScope) ([]datatypes.Chunk, error)
}

// WeaviateGateway implements Gateway against a Weaviate instance.
//
// # Description
//
// The scope filter is enforced by the backend, not post-filtered in memory:
// the where-clause only admits chunks whose subject is null (shared
// material) or equals the scope's subject, and whose category equals the
// scope's category when one was requested. A chunk outside the scope can
// therefore never enter the candidate pool.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateGateway struct {
	client *weaviate.Client
}

// NewWeaviateGateway creates a gateway over an already-connected client.
func NewWeaviateGateway(client *weaviate.Client) *WeaviateGateway {
	return &WeaviateGateway{client: client}
}

// Retrieve runs the scoped nearVector search.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - vector: Query embedding.
//   - k: Candidate pool size (0 means DefaultPoolSize).
//
// # Outputs
//
//   - []datatypes.Chunk: Raw candidates in retrieval order, scored by
//     certainty. May be empty; emptiness is not an error.
//   - error: *UnavailableError when the backend is
//     unreachable or rejects the query. The pipeline fails whole rather
//     than serving a partial result.
func (g *WeaviateGateway) Retrieve(ctx context.Context, vector []float32, k int, scope datatypes.AccessScope) ([]datatypes.Chunk, error) {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()

	if k <= 0 {
		k = DefaultPoolSize
	}
	span.SetAttributes(
		attribute.Int("retrieval.k", k),
		attribute.Bool("retrieval.has_subject", scope.Subject != ""),
		attribute.String("retrieval.category", scope.Category),
	)

	nearVector := g.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "doc_id"},
		{Name: "subject"},
		{Name: "category"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := g.client.GraphQL().Get().
		WithClassName(ChunkClass).
		WithFields(fields...).
		WithWhere(scopeFilter(scope)).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		slog.Error("Vector search failed", "error", err)
		return nil, &UnavailableError{
			Message: "vector search failed",
			Cause:   err,
		}
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		slog.Error("Vector search returned GraphQL errors", "errors", msgs)
		return nil, &UnavailableError{
			Message: fmt.Sprintf("vector search rejected: %v", msgs),
		}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocChunkQueryResponse](result)
	if err != nil {
		return nil, &UnavailableError{
			Message: "failed to parse search results",
			Cause:   err,
		}
	}

	chunks := make([]datatypes.Chunk, 0, len(parsed.Get.DocChunk))
	for i := range parsed.Get.DocChunk {
		chunks = append(chunks, parsed.Get.DocChunk[i].ToChunk(i))
	}

	slog.Debug("Retrieved candidate chunks",
		"count", len(chunks), "k", k, "subject_scoped", scope.Subject != "")
	span.SetAttributes(attribute.Int("retrieval.candidates", len(chunks)))
	return chunks, nil
}

// scopeFilter builds the where-clause enforcing the access scope:
//
//	(subject IS NULL OR subject == scope.Subject) AND category == scope.Category
//
// with each half dropped when the scope does not constrain it. Shared
// material carries no subject property, which Weaviate treats as null.
func scopeFilter(scope datatypes.AccessScope) *filters.WhereBuilder {
	publicFilter := filters.Where().
		WithPath([]string{"subject"}).
		WithOperator(filters.IsNull).
		WithValueBoolean(true)

	subjectSide := publicFilter
	if scope.Subject != "" {
		ownFilter := filters.Where().
			WithPath([]string{"subject"}).
			WithOperator(filters.Equal).
			WithValueString(scope.Subject)
		subjectSide = filters.Where().
			WithOperator(filters.Or).
			WithOperands([]*filters.WhereBuilder{publicFilter, ownFilter})
	}

	if scope.Category == "" {
		return subjectSide
	}

	categoryFilter := filters.Where().
		WithPath([]string{"category"}).
		WithOperator(filters.Equal).
		WithValueString(scope.Category)

	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{subjectSide, categoryFilter})
}

var _ Gateway = (*WeaviateGateway)(nil)
