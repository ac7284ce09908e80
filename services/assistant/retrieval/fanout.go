// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// maxConcurrentVariants bounds the embed+search fan-out per request.
const maxConcurrentVariants = 3

// ExpandPool widens a candidate pool by searching each query variant and
// merging the results into base.
//
// # Description
//
// Each variant is embedded and searched concurrently. Results merge by chunk
// id, keeping the best raw score per chunk; chunks already in base keep
// their position, new chunks append in variant order. The merged pool is
// trimmed to k. Variant failures are logged and skipped: the primary search
// already succeeded, so a partial expansion is still a correct pool.
//
// # Inputs
//
//   - variants: Rewritten query texts. Empty input returns base unchanged.
//   - k: Pool cap after merging (0 means DefaultPoolSize).
//   - base: Primary search results, already scope-filtered.
//
// # Outputs
//
//   - []datatypes.Chunk: Merged pool, at most k entries.
func ExpandPool(ctx context.Context, embedder Embedder, gw Gateway, variants []string, k int, scope datatypes.AccessScope, base []datatypes.Chunk) []datatypes.Chunk {
	if len(variants) == 0 {
		return base
	}
	if k <= 0 {
		k = DefaultPoolSize
	}

	ctx, span := tracer.Start(ctx, "ExpandPool")
	defer span.End()

	var mu sync.Mutex
	results := make([][]datatypes.Chunk, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentVariants)
	for i, variant := range variants {
		g.Go(func() error {
			vector, err := embedder.Embed(gctx, variant)
			if err != nil {
				slog.Warn("Variant embedding failed, skipping",
					"variant", variant, "error", err)
				return nil
			}
			chunks, err := gw.Retrieve(gctx, vector, k, scope)
			if err != nil {
				slog.Warn("Variant search failed, skipping",
					"variant", variant, "error", err)
				return nil
			}
			mu.Lock()
			results[i] = chunks
			mu.Unlock()
			return nil
		})
	}
	// Goroutines never return errors; Wait only orders the writes.
	_ = g.Wait()

	merged := make([]datatypes.Chunk, len(base))
	copy(merged, base)
	index := make(map[string]int, len(base))
	for i, c := range base {
		index[c.ID] = i
	}

	for _, chunks := range results {
		for _, c := range chunks {
			if at, ok := index[c.ID]; ok {
				if c.Score > merged[at].Score {
					merged[at].Score = c.Score
				}
				continue
			}
			index[c.ID] = len(merged)
			merged = append(merged, c)
		}
	}

	if len(merged) > k {
		merged = merged[:k]
	}
	for i := range merged {
		merged[i].Position = i
	}
	return merged
}
