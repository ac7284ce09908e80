// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pii

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Canonical PII type names as they appear in the pattern table and in
// datatypes.ChunkPII.Types. Kept as constants so callers never compare
// against raw strings.
const (
	TypeCard       = "card"
	TypeTaxID      = "tax_id"
	TypeNationalID = "national_id"
	TypeEmail      = "email"
	TypePhone      = "phone"
)

type PatternFile struct {
	Types []PIIType `yaml:"pii_types"`
}

type PIIType struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Placeholder      string           `yaml:"placeholder"`
	Patterns         []Pattern        `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

func (p *PatternFile) CompileRegexes() error {
	for i := range p.Types {
		if p.Types[i].Name == "" {
			return fmt.Errorf("pii type at index %d has no name", i)
		}
		if p.Types[i].Placeholder == "" {
			return fmt.Errorf("pii type %q has no placeholder", p.Types[i].Name)
		}
		for j := range p.Types[i].Patterns {
			pattern := &p.Types[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			p.Types[i].CompiledPatterns = append(p.Types[i].CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	return nil
}

func (p *PatternFile) SortByPriority() {
	sort.Slice(p.Types, func(i, j int) bool {
		return p.Types[i].Priority > p.Types[j].Priority
	})
}
