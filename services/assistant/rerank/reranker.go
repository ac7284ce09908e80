// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rerank

import (
	"sort"
	"strings"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/queryproc"
)

// Config holds the scoring weights and selection caps. It is immutable after
// construction: the service builds one Config at startup and every request
// shares it, which keeps scoring reproducible and lets tests override single
// knobs.
type Config struct {
	// SemanticWeight scales the raw retrieval similarity.
	SemanticWeight float64

	// KeywordWeight scales the query-keyword overlap ratio.
	KeywordWeight float64

	// MentionWeight is added in full when the chunk's source document was
	// explicitly mentioned in the query.
	MentionWeight float64

	// TopicWeight is added in full when the chunk's category matches a
	// detected query topic.
	TopicWeight float64

	// MinSimilarity drops candidates whose raw similarity falls below it
	// before any scoring happens.
	MinSimilarity float64

	// DedupThreshold is the character-trigram Jaccard similarity above
	// which a candidate is considered a near-duplicate of an
	// already-accepted chunk.
	DedupThreshold float64

	// MaxResults bounds the final selected set.
	MaxResults int

	// MaxPerDoc bounds how many chunks one source document contributes.
	MaxPerDoc int

	// MaxFromMentionedDoc replaces MaxPerDoc for documents the query
	// mentioned explicitly.
	MaxFromMentionedDoc int

	// PoolSize is the retrieval fan-out the reranker expects. Candidates
	// beyond it are ignored, which keeps the pairwise dedup bounded.
	PoolSize int
}

// DefaultConfig returns the production weights and caps.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:      0.50,
		KeywordWeight:       0.15,
		MentionWeight:       0.25,
		TopicWeight:         0.10,
		MinSimilarity:       0.12,
		DedupThreshold:      0.85,
		MaxResults:          15,
		MaxPerDoc:           6,
		MaxFromMentionedDoc: 10,
		PoolSize:            80,
	}
}

// RankedResult is the ordered working set the context assembler consumes.
type RankedResult struct {
	// Chunks are the selected chunks in final rank order, with Score
	// replaced by the composite score.
	Chunks []datatypes.Chunk

	// UsedChunkIDs are the ids of Chunks, in the same order.
	UsedChunkIDs []string
}

// Reranker computes composite relevance and selects the final working set.
// Safe for concurrent use: all state is the immutable Config.
type Reranker struct {
	cfg Config
}

// NewReranker builds a Reranker, filling zero-value Config fields from
// DefaultConfig.
func NewReranker(cfg Config) *Reranker {
	def := DefaultConfig()
	if cfg.SemanticWeight == 0 && cfg.KeywordWeight == 0 && cfg.MentionWeight == 0 && cfg.TopicWeight == 0 {
		cfg.SemanticWeight = def.SemanticWeight
		cfg.KeywordWeight = def.KeywordWeight
		cfg.MentionWeight = def.MentionWeight
		cfg.TopicWeight = def.TopicWeight
	}
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.DedupThreshold == 0 {
		cfg.DedupThreshold = def.DedupThreshold
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.MaxPerDoc == 0 {
		cfg.MaxPerDoc = def.MaxPerDoc
	}
	if cfg.MaxFromMentionedDoc == 0 {
		cfg.MaxFromMentionedDoc = def.MaxFromMentionedDoc
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = def.PoolSize
	}
	return &Reranker{cfg: cfg}
}

// Rank scores candidates against the normalized query and selects the final
// set.
//
// # Description
//
// Composite score per candidate:
//
//	score = semanticWeight·similarity + keywordWeight·overlap +
//	        mentionWeight·mentioned + topicWeight·topicMatch
//
// with every term in [0, 1], so the composite is in [0, 1] as long as the
// weights sum to at most 1.
//
// Selection walks candidates in descending composite order (ties broken by
// original retrieval position, then chunk id) and accepts a chunk unless it
// is a near-duplicate of an accepted one or its document already hit the
// per-document cap. Selection stops at MaxResults.
//
// # Inputs
//
//   - query: Normalized query carrying keywords, mentions, and topics.
//   - candidates: Raw retrieval output, at most PoolSize entries considered.
//
// # Outputs
//
//   - RankedResult: Selected chunks in rank order. Empty input yields an
//     empty result, never an error.
func (r *Reranker) Rank(query queryproc.NormalizedQuery, candidates []datatypes.Chunk) RankedResult {
	if len(candidates) > r.cfg.PoolSize {
		candidates = candidates[:r.cfg.PoolSize]
	}

	scored := make([]scoredChunk, 0, len(candidates))
	for i, c := range candidates {
		if c.Score < r.cfg.MinSimilarity {
			continue
		}
		c.Position = i
		chunk := scoredChunk{
			Chunk:     c,
			composite: r.compositeScore(query, c),
			trigrams:  trigramSet(c.Content),
		}
		scored = append(scored, chunk)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].composite != scored[j].composite {
			return scored[i].composite > scored[j].composite
		}
		if scored[i].Position != scored[j].Position {
			return scored[i].Position < scored[j].Position
		}
		return scored[i].ID < scored[j].ID
	})

	return r.selectChunks(query, scored)
}

type scoredChunk struct {
	datatypes.Chunk
	composite float64
	trigrams  map[string]struct{}
}

func (r *Reranker) compositeScore(query queryproc.NormalizedQuery, c datatypes.Chunk) float64 {
	semantic := clamp01(c.Score)
	overlap := keywordOverlap(query.Keywords, c.Content)

	mention := 0.0
	if query.MentionsDoc(c.Source) {
		mention = 1.0
	}
	topic := 0.0
	if c.Category != "" {
		for _, t := range query.Topics {
			if t == c.Category {
				topic = 1.0
				break
			}
		}
	}

	score := r.cfg.SemanticWeight*semantic +
		r.cfg.KeywordWeight*overlap +
		r.cfg.MentionWeight*mention +
		r.cfg.TopicWeight*topic
	return clamp01(score)
}

func (r *Reranker) selectChunks(query queryproc.NormalizedQuery, scored []scoredChunk) RankedResult {
	var result RankedResult
	perDoc := make(map[string]int)
	accepted := make([]map[string]struct{}, 0, r.cfg.MaxResults)

	// Enumeration questions get the whole pool; dedup and per-doc caps
	// still apply.
	budget := r.cfg.MaxResults
	if query.FullList {
		budget = r.cfg.PoolSize
	}

	for _, sc := range scored {
		if len(result.Chunks) >= budget {
			break
		}

		docCap := r.cfg.MaxPerDoc
		if query.MentionsDoc(sc.Source) {
			docCap = r.cfg.MaxFromMentionedDoc
		}
		if perDoc[sc.DocID] >= docCap {
			continue
		}

		if r.isNearDuplicate(sc.trigrams, accepted) {
			continue
		}

		chunk := sc.Chunk
		chunk.Score = sc.composite
		result.Chunks = append(result.Chunks, chunk)
		result.UsedChunkIDs = append(result.UsedChunkIDs, chunk.ID)
		perDoc[sc.DocID]++
		accepted = append(accepted, sc.trigrams)
	}
	return result
}

func (r *Reranker) isNearDuplicate(trigrams map[string]struct{}, accepted []map[string]struct{}) bool {
	for _, prev := range accepted {
		if jaccard(trigrams, prev) > r.cfg.DedupThreshold {
			return true
		}
	}
	return false
}

// ===== Scoring helpers =====

// keywordOverlap is the fraction of query keywords present in the chunk
// text. Chunk tokens get the same diacritic fold the keywords were stored
// with, so accented text matches its own keywords.
func keywordOverlap(keywords []string, content string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	tokens := tokenSet(content)
	hits := 0
	for _, kw := range keywords {
		if _, ok := tokens[kw]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// jaccard computes |a ∩ b| / |a ∪ b| over token sets. Two empty sets count
// as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	inter := 0
	for tok := range small {
		if _, ok := big[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(queryproc.FoldText(text)) {
		tok = strings.Trim(tok, ".,;:¿?¡!()\"'")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// trigramSet builds the set of character 3-grams of the folded text.
// Character n-grams keep the dedup sensitive to near-duplicates that differ
// only in inflection or small typos, which word sets under-count.
func trigramSet(text string) map[string]struct{} {
	runes := []rune(queryproc.FoldText(text))
	set := make(map[string]struct{})
	if len(runes) < 3 {
		if len(runes) > 0 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
