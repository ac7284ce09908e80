// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package queryproc

// DefaultStopwords covers the Spanish and English function words that carry
// no retrieval signal. The corpus is bilingual, so both lists are folded in.
var DefaultStopwords = []string{
	// Spanish
	"a", "al", "como", "con", "cual", "cuales", "cuando", "de", "del",
	"donde", "el", "ella", "en", "entre", "es", "esta", "este", "esto",
	"hay", "la", "las", "lo", "los", "mas", "me", "mi", "muy", "no",
	"o", "para", "pero", "por", "que", "se", "si", "sin", "sobre", "son",
	"su", "sus", "tengo", "tiene", "un", "una", "uno", "y", "ya", "yo",
	// English
	"about", "an", "and", "are", "at", "be", "by", "can", "do", "does",
	"for", "from", "has", "have", "how", "i", "in", "is", "it", "my",
	"of", "on", "or", "the", "to", "what", "when", "where", "which",
	"who", "will", "with",
}

// DefaultSynonyms widens recall for the most common domain vocabulary.
// Keys and values are in folded form.
var DefaultSynonyms = map[string][]string{
	"tarjeta":       {"credito", "plastico"},
	"cuenta":        {"caja de ahorro"},
	"prestamo":      {"credito personal"},
	"transferencia": {"giro"},
	"requisitos":    {"condiciones"},
	"comision":      {"cargo", "costo"},
}

// DefaultFullListPhrases mark a query as asking for an exhaustive
// enumeration rather than an answer, which relaxes the selection budget.
// Phrases are in folded form.
var DefaultFullListPhrases = []string{
	"todos los documentos", "todas las", "lista completa", "listado completo",
	"enumera", "cuales son todos", "all documents", "complete list",
	"full list", "list all", "list every",
}

// DefaultTopicKeywords signals the shared-corpus category a query leans
// toward. Used by the reranker's topic boost.
var DefaultTopicKeywords = map[string][]string{
	"public_docs": {
		"requisitos", "comision", "comisiones", "tarifa", "tarifas",
		"contrato", "reglamento", "plazo", "tasa", "manual",
	},
	"educational": {
		"aprender", "curso", "guia", "tutorial", "ejemplo",
		"consejo", "consejos", "ahorro", "presupuesto",
	},
}
