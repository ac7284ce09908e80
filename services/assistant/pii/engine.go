// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pii

import (
	"fmt"
	"os"
	"sync"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/pii/enforcement"
	"gopkg.in/yaml.v3"
)

// Engine is the main entry point for PII classification and redaction.
//
// It holds the compiled pattern table and provides methods to classify chunk
// text, derive a sensitivity level, and rewrite text with typed placeholders.
// The pattern table can be swapped at runtime via Reload, so all reads take
// the lock; an Engine is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	types []PIIType
}

// NewEngine initializes an Engine from the pattern table embedded in the
// binary via the enforcement package.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts PII types by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewEngine() (*Engine, error) {
	return NewEngineFromBytes(enforcement.PIIPatterns)
}

// NewEngineFromBytes builds an Engine from raw YAML bytes. Used by NewEngine
// for the embedded table and by the watcher when an external override file
// changes on disk.
func NewEngineFromBytes(data []byte) (*Engine, error) {
	types, err := parsePatterns(data)
	if err != nil {
		return nil, err
	}
	return &Engine{types: types}, nil
}

// NewEngineFromFile builds an Engine from an external pattern file, falling
// back to the embedded table when the path is empty.
func NewEngineFromFile(path string) (*Engine, error) {
	if path == "" {
		return NewEngine()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file %s: %w", path, err)
	}
	return NewEngineFromBytes(data)
}

func parsePatterns(data []byte) ([]PIIType, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the pattern file: %w", err)
	}
	if len(file.Types) == 0 {
		return nil, fmt.Errorf("pattern file defines no pii types")
	}
	if err := file.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	file.SortByPriority()
	return file.Types, nil
}

// Reload replaces the active pattern table with one parsed from data. The old
// table stays in place when parsing fails, so a bad external file can never
// leave the engine without patterns.
func (e *Engine) Reload(data []byte) error {
	types, err := parsePatterns(data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.types = types
	e.mu.Unlock()
	return nil
}

// Classify scans text and returns the detected PII types with the derived
// sensitivity level.
//
// Sensitivity derivation:
//   - high when a card number is present, or two or more distinct types match
//   - medium when exactly one non-card type matches
//   - none otherwise
func (e *Engine) Classify(text string) datatypes.ChunkPII {
	detected := e.DetectTypes(text)
	return datatypes.ChunkPII{
		Types:       detected,
		Sensitivity: deriveSensitivity(detected),
	}
}

// DetectTypes returns the names of all PII types with at least one match in
// text, ordered by priority (highest first).
//
// Matches are consumed in priority order: once a higher-priority type has
// claimed a span, lower-priority patterns scan the text with that span
// already replaced. A hyphenated tax id therefore counts as tax_id only,
// not additionally as a national id fragment.
func (e *Engine) DetectTypes(text string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var detected []string
	for i := range e.types {
		matched := false
		for _, re := range e.types[i].CompiledPatterns {
			if re.MatchString(text) {
				matched = true
				text = re.ReplaceAllString(text, e.types[i].Placeholder)
			}
		}
		if matched {
			detected = append(detected, e.types[i].Name)
		}
	}
	return detected
}

// Redact rewrites text replacing every PII match with the typed placeholder
// of its pattern. Types are applied in priority order, so a card number is
// consumed by the card placeholder before the lower-priority digit patterns
// can see its fragments.
//
// Placeholders contain no digits or address characters, so running Redact on
// already redacted text returns it unchanged.
func (e *Engine) Redact(text string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.types {
		for _, re := range e.types[i].CompiledPatterns {
			text = re.ReplaceAllString(text, e.types[i].Placeholder)
		}
	}
	return text
}

// Placeholder returns the placeholder configured for a PII type name, or the
// empty string when the type is unknown.
func (e *Engine) Placeholder(typeName string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.types {
		if e.types[i].Name == typeName {
			return e.types[i].Placeholder
		}
	}
	return ""
}

func deriveSensitivity(detected []string) datatypes.Sensitivity {
	if len(detected) == 0 {
		return datatypes.SensitivityNone
	}
	for _, name := range detected {
		if name == TypeCard {
			return datatypes.SensitivityHigh
		}
	}
	if len(detected) >= 2 {
		return datatypes.SensitivityHigh
	}
	return datatypes.SensitivityMedium
}
