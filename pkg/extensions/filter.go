// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// AnswerFilter transforms final answer text after redaction has run.
// It is the hook for deployment-specific concerns the core pipeline does
// not know about: appending regulatory disclaimers, stripping markup a
// downstream channel cannot render, or enforcing tone policies.
//
// Filters run after the redactor, so they see exactly what the caller
// will see. A filter must never reintroduce redacted content.
//
// Implementations must be safe for concurrent use.
type AnswerFilter interface {
	// FilterAnswer returns the text to deliver. Returning an error fails
	// the request; prefer returning the input unchanged on internal
	// filter trouble.
	FilterAnswer(ctx context.Context, principal *datatypes.Principal, answer string) (string, error)
}

// NopAnswerFilter passes answers through unchanged.
type NopAnswerFilter struct{}

func (f *NopAnswerFilter) FilterAnswer(_ context.Context, _ *datatypes.Principal, answer string) (string, error) {
	return answer, nil
}

var _ AnswerFilter = (*NopAnswerFilter)(nil)
