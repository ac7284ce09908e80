// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package queryproc

import (
	"sort"
	"strings"
	"unicode"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizedQuery is the enriched form of a raw user question. It feeds both
// the embedding call and the keyword-overlap signal used during reranking.
type NormalizedQuery struct {
	// Original is the question exactly as the caller sent it.
	Original string

	// Cleaned is the case-folded, diacritic-folded, punctuation-stripped
	// form used for keyword work. The embedding call uses EmbeddingText.
	Cleaned string

	// Keywords are the cleaned tokens with stopwords removed.
	Keywords []string

	// MentionedDocs are source filenames the question referenced
	// explicitly, either verbatim or through a configured alias.
	MentionedDocs []string

	// Topics are category names whose keyword tables overlap the query.
	Topics []string

	// Variants are synonym rewrites of the cleaned query, used to widen
	// recall. The cleaned query itself is not repeated here.
	Variants []string

	// HistoryText is the folded tail of the conversation, joined oldest
	// first. It supplements the current question and never replaces it.
	HistoryText string

	// FullList reports that the question asks for an exhaustive
	// enumeration. The reranker relaxes its selection budget and the
	// prompt asks the model to enumerate rather than summarize.
	FullList bool
}

// EmbeddingText returns the text to embed: the original question, with the
// folded history prefixed when present.
func (q *NormalizedQuery) EmbeddingText() string {
	if q.HistoryText == "" {
		return q.Original
	}
	return q.HistoryText + "\n" + q.Original
}

// MentionsDoc reports whether source was explicitly referenced in the query.
func (q *NormalizedQuery) MentionsDoc(source string) bool {
	folded := FoldText(source)
	for _, m := range q.MentionedDocs {
		if FoldText(m) == folded {
			return true
		}
	}
	return false
}

// DocAlias maps a known source filename to the informal names users call it.
type DocAlias struct {
	// Filename is the canonical source name as stored on chunks.
	Filename string

	// Aliases are lowercase phrases that refer to this document.
	Aliases []string
}

// Config carries the static tables the normalizer works from. All fields are
// read-only after construction; a Normalizer is safe for concurrent use.
type Config struct {
	// Stopwords are folded tokens dropped during keyword extraction.
	// Empty means DefaultStopwords.
	Stopwords []string

	// DocCatalog lists known source documents and their aliases for
	// explicit-mention detection.
	DocCatalog []DocAlias

	// Synonyms maps a folded keyword to its rewrite alternatives.
	Synonyms map[string][]string

	// TopicKeywords maps a category name to folded keywords that signal
	// it ("public_docs", "educational").
	TopicKeywords map[string][]string

	// MaxHistoryTurns is how many trailing conversation turns to fold in.
	// Zero means DefaultMaxHistoryTurns.
	MaxHistoryTurns int

	// MaxVariants caps synonym expansion. Zero means DefaultMaxVariants.
	MaxVariants int
}

const (
	DefaultMaxHistoryTurns = 3
	DefaultMaxVariants     = 4
)

// Normalizer cleans, expands, and enriches raw queries.
type Normalizer struct {
	stopwords     map[string]struct{}
	catalog       []DocAlias
	synonyms      map[string][]string
	topicKeywords map[string][]string
	historyTurns  int
	maxVariants   int
}

// NewNormalizer builds a Normalizer from cfg, applying defaults for any
// zero-value field.
func NewNormalizer(cfg Config) *Normalizer {
	words := cfg.Stopwords
	if len(words) == 0 {
		words = DefaultStopwords
	}
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[FoldText(w)] = struct{}{}
	}

	turns := cfg.MaxHistoryTurns
	if turns <= 0 {
		turns = DefaultMaxHistoryTurns
	}
	variants := cfg.MaxVariants
	if variants <= 0 {
		variants = DefaultMaxVariants
	}

	return &Normalizer{
		stopwords:     stop,
		catalog:       cfg.DocCatalog,
		synonyms:      cfg.Synonyms,
		topicKeywords: cfg.TopicKeywords,
		historyTurns:  turns,
		maxVariants:   variants,
	}
}

// Normalize runs the full enrichment over question and the caller's recent
// conversation turns.
func (n *Normalizer) Normalize(question string, history []datatypes.ConversationTurn) NormalizedQuery {
	cleaned := cleanText(question)
	keywords := n.extractKeywords(cleaned)

	return NormalizedQuery{
		Original:      strings.TrimSpace(question),
		Cleaned:       cleaned,
		Keywords:      keywords,
		MentionedDocs: n.detectMentions(question, cleaned),
		Topics:        n.detectTopics(keywords),
		Variants:      n.expandVariants(cleaned, keywords),
		HistoryText:   n.foldHistory(history),
		FullList:      n.detectFullList(cleaned),
	}
}

func (n *Normalizer) detectFullList(cleaned string) bool {
	for _, phrase := range DefaultFullListPhrases {
		if containsPhrase(cleaned, phrase) {
			return true
		}
	}
	return false
}

// extractKeywords tokenizes cleaned text and drops stopwords and single
// characters.
func (n *Normalizer) extractKeywords(cleaned string) []string {
	var keywords []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) < 2 {
			continue
		}
		if _, ok := n.stopwords[tok]; ok {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// detectMentions matches the question against known filenames and aliases.
// Filenames are matched against the raw question too, since punctuation
// cleanup strips the dot that makes "requisitos.pdf" recognizable.
func (n *Normalizer) detectMentions(raw, cleaned string) []string {
	rawFolded := FoldText(raw)
	var mentions []string
	seen := make(map[string]struct{})
	add := func(filename string) {
		if _, dup := seen[filename]; dup {
			return
		}
		seen[filename] = struct{}{}
		mentions = append(mentions, filename)
	}

	for _, doc := range n.catalog {
		if strings.Contains(rawFolded, FoldText(doc.Filename)) {
			add(doc.Filename)
			continue
		}
		for _, alias := range doc.Aliases {
			if containsPhrase(cleaned, FoldText(alias)) {
				add(doc.Filename)
				break
			}
		}
	}
	return mentions
}

// detectTopics returns categories whose keyword tables intersect the query
// keywords.
func (n *Normalizer) detectTopics(keywords []string) []string {
	if len(n.topicKeywords) == 0 {
		return nil
	}
	kw := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		kw[k] = struct{}{}
	}

	var topics []string
	for _, category := range sortedKeys(n.topicKeywords) {
		for _, signal := range n.topicKeywords[category] {
			if _, ok := kw[FoldText(signal)]; ok {
				topics = append(topics, category)
				break
			}
		}
	}
	return topics
}

// expandVariants rewrites the cleaned query once per applicable synonym,
// capped at maxVariants.
func (n *Normalizer) expandVariants(cleaned string, keywords []string) []string {
	if len(n.synonyms) == 0 {
		return nil
	}
	var variants []string
	seen := map[string]struct{}{cleaned: {}}
	for _, kw := range keywords {
		for _, alt := range n.synonyms[kw] {
			if len(variants) >= n.maxVariants {
				return variants
			}
			variant := replaceToken(cleaned, kw, FoldText(alt))
			if _, dup := seen[variant]; dup {
				continue
			}
			seen[variant] = struct{}{}
			variants = append(variants, variant)
		}
	}
	return variants
}

// foldHistory joins the questions of the last historyTurns turns, oldest
// first.
func (n *Normalizer) foldHistory(history []datatypes.ConversationTurn) string {
	if len(history) == 0 {
		return ""
	}
	start := len(history) - n.historyTurns
	if start < 0 {
		start = 0
	}
	var parts []string
	for _, turn := range history[start:] {
		q := strings.TrimSpace(turn.Question)
		if q != "" {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, "\n")
}

// ===== Text helpers =====

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldText lowercases and strips diacritics. Keywords and mentions are
// stored in this form; any text compared against them must go through the
// same fold.
func FoldText(s string) string {
	out, _, err := transform.String(diacriticStripper, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// cleanText folds case and diacritics, replaces punctuation with spaces, and
// collapses whitespace.
func cleanText(s string) string {
	folded := FoldText(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase occurs in text on token boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	idx := strings.Index(text, phrase)
	for idx >= 0 {
		beforeOK := idx == 0 || text[idx-1] == ' '
		end := idx + len(phrase)
		afterOK := end == len(text) || text[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(text[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

// replaceToken swaps whole-token occurrences of old for new.
func replaceToken(text, old, new string) string {
	tokens := strings.Fields(text)
	for i, tok := range tokens {
		if tok == old {
			tokens[i] = new
		}
	}
	return strings.Join(tokens, " ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
