// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import "fmt"

// ScopeViolationError is returned when a caller asks for material outside
// their resolvable access scope. It is raised before any retrieval happens,
// so no document content leaks into error paths. Handlers map it to an
// HTTP 403 Forbidden response.
type ScopeViolationError struct {
	// PrincipalID identifies the caller for the audit trail.
	PrincipalID string

	// Subject is the subject key the caller asked for.
	Subject string

	// Category is set instead of Subject when the request named an
	// unknown shared-corpus category.
	Category string
}

// Error implements the error interface for ScopeViolationError.
// The message deliberately carries identifiers only, never document text.
func (e *ScopeViolationError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("principal %s requested unknown category %s", e.PrincipalID, e.Category)
	}
	return fmt.Sprintf("principal %s is not allowed to query subject %s", e.PrincipalID, e.Subject)
}

// IsScopeViolation checks if an error is a ScopeViolationError.
// Handlers use this to pick the 403 status code.
func IsScopeViolation(err error) bool {
	_, ok := err.(*ScopeViolationError)
	return ok
}
