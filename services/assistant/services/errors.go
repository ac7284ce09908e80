// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import "fmt"

// GenerationUnavailableError is returned when the language model backend
// fails after context assembly succeeded. The citations that would have
// grounded the answer are preserved so the handler can still report which
// sources were consulted. Handlers map it to HTTP 503 Service Unavailable.
type GenerationUnavailableError struct {
	Message string
	Cause   error

	// ChunkIDs are the ids of the chunks that were assembled into the
	// prompt before generation failed.
	ChunkIDs []string
}

// Error implements the error interface for GenerationUnavailableError.
func (e *GenerationUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation unavailable: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("generation unavailable: %s", e.Message)
}

// Unwrap exposes the underlying backend error.
func (e *GenerationUnavailableError) Unwrap() error {
	return e.Cause
}

// IsGenerationUnavailable checks if an error is a GenerationUnavailableError.
func IsGenerationUnavailable(err error) bool {
	_, ok := err.(*GenerationUnavailableError)
	return ok
}

// GetGenerationChunkIDs extracts the assembled chunk ids from a
// GenerationUnavailableError. Returns nil for any other error.
func GetGenerationChunkIDs(err error) []string {
	if ge, ok := err.(*GenerationUnavailableError); ok {
		return ge.ChunkIDs
	}
	return nil
}
