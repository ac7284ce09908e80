// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dlp applies the outbound redaction policy to generated answers.
// It is the last step before text leaves the service: it only ever removes
// information, never adds any.
package dlp

import (
	"log/slog"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/cortexka/assistant/services/assistant/pii"
)

// Redactor rewrites generated text according to the caller's DLP level.
// Safe for concurrent use; all state lives in the shared pattern engine.
type Redactor struct {
	engine *pii.Engine
}

// NewRedactor builds a Redactor over the shared pattern engine. The same
// table drives chunk classification and outbound redaction, so a detected
// type always has a placeholder to land on.
func NewRedactor(engine *pii.Engine) *Redactor {
	return &Redactor{engine: engine}
}

// Redact applies the policy for level to text.
//
// # Description
//
// Standard level replaces every detected PII span with its typed
// placeholder. Privileged level passes the text through unchanged; the
// decision is logged so privileged pass-throughs stay auditable. Redaction
// is idempotent: redacting already-redacted text is a no-op.
func (r *Redactor) Redact(text string, level datatypes.DLPLevel) string {
	if level == datatypes.DLPPrivileged {
		slog.Debug("DLP pass-through for privileged caller")
		return text
	}
	redacted := r.engine.Redact(text)
	if redacted != text {
		slog.Info("DLP redaction applied to outbound answer")
	}
	return redacted
}
