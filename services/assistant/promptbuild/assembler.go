// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package promptbuild assembles the bounded prompt sent to the generation
// backend: fixed system instructions, the selected chunks in rank order, an
// optional masked snapshot, and the user's question.
package promptbuild

import (
	"fmt"
	"strings"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// DefaultMaxPromptChars bounds the assembled prompt. Roughly 3k tokens for
// the mostly-Spanish corpus, leaving the generation backend output headroom.
const DefaultMaxPromptChars = 12000

// DefaultSystemPrompt is the fixed instruction block.
const DefaultSystemPrompt = `Sos un asistente bancario. Respondé únicamente con la información del contexto provisto. Si el contexto no alcanza para responder, decilo explícitamente en lugar de inventar. Respondé en el idioma de la pregunta.`

// fullListInstruction is appended when the question asks for an exhaustive
// enumeration.
const fullListInstruction = `La pregunta pide una enumeración completa: listá todos los elementos presentes en el contexto, sin resumir ni omitir ninguno.`

// Config controls prompt assembly.
type Config struct {
	// SystemPrompt is the instruction block. Empty means
	// DefaultSystemPrompt.
	SystemPrompt string

	// MaxPromptChars bounds the assembled prompt size. Zero means
	// DefaultMaxPromptChars.
	MaxPromptChars int
}

// Assembled is the outcome of one Build call.
type Assembled struct {
	// Prompt is the full text sent to the generation backend.
	Prompt string

	// Chunks are the chunks that actually made it into the prompt, in
	// prompt order. This can be shorter than the input when the budget
	// forced truncation.
	Chunks []datatypes.Chunk

	// Citations mirror Chunks one-to-one, in the same order.
	Citations []datatypes.Citation

	// Truncated reports whether any selected chunk was dropped for size.
	Truncated bool
}

// Assembler builds prompts. Safe for concurrent use; all state is the
// immutable config.
type Assembler struct {
	systemPrompt string
	maxChars     int
}

// NewAssembler builds an Assembler, applying defaults for zero values.
func NewAssembler(cfg Config) *Assembler {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = DefaultMaxPromptChars
	}
	return &Assembler{systemPrompt: cfg.SystemPrompt, maxChars: cfg.MaxPromptChars}
}

// Build assembles the prompt.
//
// # Description
//
// The layout is: system instructions, context chunks in rank order, the
// masked snapshot when present, then the question. When the assembled size
// would exceed the budget, the lowest-ranked chunks are dropped first; the
// snapshot and the question are never dropped, whatever the budget.
//
// # Inputs
//
//   - question: The user's question, verbatim.
//   - chunks: Selected chunks in rank order.
//   - snapshot: Masked per-subject record, or nil when the request has no
//     transactional subject.
//   - fullList: Adds an enumerate instruction for exhaustive-list
//     questions.
//
// # Outputs
//
//   - Assembled: Prompt plus the chunks and citations that were included.
func (a *Assembler) Build(question string, chunks []datatypes.Chunk, snapshot *datatypes.Snapshot, fullList bool) Assembled {
	fixed := a.fixedSize(question, snapshot)
	if fullList {
		fixed += len(fullListInstruction) + 2
	}
	budget := a.maxChars - fixed

	var included []datatypes.Chunk
	used := 0
	truncated := false
	for _, c := range chunks {
		block := chunkBlock(len(included)+1, c)
		if used+len(block) > budget {
			truncated = true
			break
		}
		used += len(block)
		included = append(included, c)
	}
	if len(included) < len(chunks) {
		truncated = true
	}

	var b strings.Builder
	b.WriteString(a.systemPrompt)
	b.WriteString("\n\n")

	if len(included) > 0 {
		b.WriteString("### Contexto\n")
		for i, c := range included {
			b.WriteString(chunkBlock(i+1, c))
		}
		b.WriteString("\n")
	}

	if snapshot != nil {
		b.WriteString(snapshotBlock(snapshot))
		b.WriteString("\n")
	}

	if fullList {
		b.WriteString(fullListInstruction)
		b.WriteString("\n\n")
	}

	b.WriteString("### Pregunta\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")

	citations := make([]datatypes.Citation, 0, len(included))
	for _, c := range included {
		citations = append(citations, datatypes.Citation{ChunkID: c.ID, Source: c.Source})
	}

	return Assembled{
		Prompt:    b.String(),
		Chunks:    included,
		Citations: citations,
		Truncated: truncated,
	}
}

// fixedSize is the space consumed by everything that can never be dropped.
func (a *Assembler) fixedSize(question string, snapshot *datatypes.Snapshot) int {
	size := len(a.systemPrompt) + len(question) + 64 // section headers and separators
	if snapshot != nil {
		size += len(snapshotBlock(snapshot))
	}
	return size
}

func chunkBlock(n int, c datatypes.Chunk) string {
	return fmt.Sprintf("[%d] (%s)\n%s\n\n", n, c.Source, strings.TrimSpace(c.Content))
}

// snapshotBlock renders the masked snapshot as structured text. Only
// non-empty fields appear.
func snapshotBlock(s *datatypes.Snapshot) string {
	var b strings.Builder
	b.WriteString("### Ficha del cliente\n")
	if s.FullName != "" {
		fmt.Fprintf(&b, "Nombre: %s\n", s.FullName)
	}
	if s.NationalID != "" {
		fmt.Fprintf(&b, "Documento: %s\n", s.NationalID)
	}
	if s.TaxID != "" {
		fmt.Fprintf(&b, "CUIT/CUIL: %s\n", s.TaxID)
	}
	if s.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", s.Email)
	}
	if s.Phone != "" {
		fmt.Fprintf(&b, "Teléfono: %s\n", s.Phone)
	}
	if len(s.Products) > 0 {
		b.WriteString("Productos:\n")
		for _, p := range s.Products {
			if p.Status != "" {
				fmt.Fprintf(&b, "  - %s (%s)\n", p.Name, p.Status)
			} else {
				fmt.Fprintf(&b, "  - %s\n", p.Name)
			}
		}
	}
	if len(s.RecentTransactions) > 0 {
		b.WriteString("Movimientos recientes:\n")
		for _, tx := range s.RecentTransactions {
			fmt.Fprintf(&b, "  - %s %s %.2f %s\n", tx.Date, tx.Description, tx.Amount, tx.Currency)
		}
	}
	return b.String()
}
