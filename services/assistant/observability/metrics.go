// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the OTel metric instruments for the
// assistant service. Metric names use the "assistant_" prefix.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined instruments for the answer pipeline.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// AnswerRequestsTotal counts answer requests by role and outcome.
	AnswerRequestsTotal metric.Int64Counter

	// AnswerDuration records end-to-end answer latency in seconds.
	AnswerDuration metric.Float64Histogram

	// RetrievalDuration records vector search latency in seconds.
	RetrievalDuration metric.Float64Histogram

	// CandidatesRetrieved records how many chunks the backend returned
	// per request, before reranking.
	CandidatesRetrieved metric.Int64Histogram

	// ChunksSelected records how many chunks survived reranking.
	ChunksSelected metric.Int64Histogram

	// ScopeViolationsTotal counts rejected out-of-scope requests by role.
	ScopeViolationsTotal metric.Int64Counter

	// ClassifierFailuresTotal counts chunk classification failures. The
	// pipeline degrades rather than fails on these, so the counter is
	// the only place they surface besides logs.
	ClassifierFailuresTotal metric.Int64Counter

	// RedactionsTotal counts answers where redaction changed the text.
	RedactionsTotal metric.Int64Counter

	// CacheLookupsTotal counts answer cache lookups by result.
	CacheLookupsTotal metric.Int64Counter

	// ErrorsTotal counts errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all instruments with the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AnswerRequestsTotal, err = meter.Int64Counter(
		"assistant_answer_requests_total",
		metric.WithDescription("Total answer requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create answer_requests_total: %w", err)
	}

	m.AnswerDuration, err = meter.Float64Histogram(
		"assistant_answer_duration_seconds",
		metric.WithDescription("End-to-end answer latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create answer_duration: %w", err)
	}

	m.RetrievalDuration, err = meter.Float64Histogram(
		"assistant_retrieval_duration_seconds",
		metric.WithDescription("Vector search latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval_duration: %w", err)
	}

	m.CandidatesRetrieved, err = meter.Int64Histogram(
		"assistant_candidates_retrieved",
		metric.WithDescription("Chunks returned by the backend per request"),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(0, 5, 10, 20, 40, 60, 80),
	)
	if err != nil {
		return nil, fmt.Errorf("create candidates_retrieved: %w", err)
	}

	m.ChunksSelected, err = meter.Int64Histogram(
		"assistant_chunks_selected",
		metric.WithDescription("Chunks surviving reranking per request"),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(0, 1, 3, 5, 10, 15),
	)
	if err != nil {
		return nil, fmt.Errorf("create chunks_selected: %w", err)
	}

	m.ScopeViolationsTotal, err = meter.Int64Counter(
		"assistant_scope_violations_total",
		metric.WithDescription("Requests rejected for targeting another subject"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create scope_violations_total: %w", err)
	}

	m.ClassifierFailuresTotal, err = meter.Int64Counter(
		"assistant_classifier_failures_total",
		metric.WithDescription("Chunk classification failures the pipeline degraded around"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classifier_failures_total: %w", err)
	}

	m.RedactionsTotal, err = meter.Int64Counter(
		"assistant_redactions_total",
		metric.WithDescription("Answers where redaction changed the delivered text"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create redactions_total: %w", err)
	}

	m.CacheLookupsTotal, err = meter.Int64Counter(
		"assistant_cache_lookups_total",
		metric.WithDescription("Answer cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_lookups_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"assistant_errors_total",
		metric.WithDescription("Total errors by component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RecordAnswer records one completed answer request.
func (m *Metrics) RecordAnswer(ctx context.Context, role, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("outcome", outcome),
	)
	m.AnswerRequestsTotal.Add(ctx, 1, attrs)
	m.AnswerDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRetrieval records one vector search round trip.
func (m *Metrics) RecordRetrieval(ctx context.Context, elapsed time.Duration, candidates int) {
	m.RetrievalDuration.Record(ctx, elapsed.Seconds())
	m.CandidatesRetrieved.Record(ctx, int64(candidates))
}

// RecordCacheLookup records an answer cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordError counts an error against a pipeline component.
func (m *Metrics) RecordError(ctx context.Context, component string) {
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}
