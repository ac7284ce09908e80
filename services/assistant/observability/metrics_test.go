// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics(t *testing.T) {
	meter := otel.Meter("test_metrics")
	metrics, err := NewMetrics(meter)
	require.NoError(t, err)

	assert.NotNil(t, metrics.AnswerRequestsTotal)
	assert.NotNil(t, metrics.AnswerDuration)
	assert.NotNil(t, metrics.RetrievalDuration)
	assert.NotNil(t, metrics.CandidatesRetrieved)
	assert.NotNil(t, metrics.ChunksSelected)
	assert.NotNil(t, metrics.ScopeViolationsTotal)
	assert.NotNil(t, metrics.ClassifierFailuresTotal)
	assert.NotNil(t, metrics.RedactionsTotal)
	assert.NotNil(t, metrics.CacheLookupsTotal)
	assert.NotNil(t, metrics.ErrorsTotal)
}

func TestMetricsRecordHelpers(t *testing.T) {
	// A manual reader makes the recordings observable, proving the
	// helpers record against a real provider rather than the no-op
	// global default.
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewMetrics(provider.Meter("test_metrics_helpers"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordAnswer(ctx, "employee", "success", 750*time.Millisecond)
	metrics.RecordRetrieval(ctx, 40*time.Millisecond, 62)
	metrics.RecordCacheLookup(ctx, true)
	metrics.RecordCacheLookup(ctx, false)
	metrics.RecordError(ctx, "retrieval")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	recorded := make(map[string]metricdata.Metrics)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		recorded[m.Name] = m
	}
	assert.Contains(t, recorded, "assistant_answer_requests_total")
	assert.Contains(t, recorded, "assistant_answer_duration_seconds")
	assert.Contains(t, recorded, "assistant_retrieval_duration_seconds")
	assert.Contains(t, recorded, "assistant_candidates_retrieved")
	assert.Contains(t, recorded, "assistant_cache_lookups_total")
	assert.Contains(t, recorded, "assistant_errors_total")

	lookups, ok := recorded["assistant_cache_lookups_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	// One data point per result attribute, one lookup each.
	require.Len(t, lookups.DataPoints, 2)
	for _, dp := range lookups.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
	}
}
