// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dlp

import (
	"testing"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/pii"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedactor(t *testing.T) *Redactor {
	t.Helper()
	engine, err := pii.NewEngine()
	require.NoError(t, err)
	return NewRedactor(engine)
}

func TestRedactStandardReplacesNationalID(t *testing.T) {
	r := newRedactor(t)

	got := r.Redact("El documento del titular es 12345678.", datatypes.DLPStandard)

	assert.NotContains(t, got, "12345678")
	assert.Contains(t, got, "<national-id-redacted>")
}

func TestRedactPrivilegedPassesThrough(t *testing.T) {
	r := newRedactor(t)

	text := "El documento del titular es 12345678."
	got := r.Redact(text, datatypes.DLPPrivileged)

	assert.Equal(t, text, got)
}

func TestRedactIsIdempotent(t *testing.T) {
	r := newRedactor(t)

	once := r.Redact("Tarjeta 4111 1111 1111 1111 y mail juan@example.com", datatypes.DLPStandard)
	twice := r.Redact(once, datatypes.DLPStandard)

	assert.Equal(t, once, twice)
}

func TestRedactCleanTextUnchanged(t *testing.T) {
	r := newRedactor(t)

	text := "El horario de atención es de lunes a viernes."
	assert.Equal(t, text, r.Redact(text, datatypes.DLPStandard))
}
