// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import "fmt"

// UnavailableError is returned when the vector store or the embedding
// service cannot be reached or rejects the query. It is always
// retryable: the pipeline never falls back to generating an answer
// without retrieved context. Handlers map it to HTTP 503.
type UnavailableError struct {
	Message string
	Cause   error
}

// Error implements the error interface for UnavailableError.
func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("retrieval unavailable: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("retrieval unavailable: %s", e.Message)
}

// Unwrap exposes the underlying transport error for errors.Is checks.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// IsUnavailable checks if an error is an UnavailableError.
func IsUnavailable(err error) bool {
	_, ok := err.(*UnavailableError)
	return ok
}
