// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package access resolves an authenticated principal plus a requested target
// into the retrieval scope a request is allowed to operate in. Resolution is
// one pure function with no transport or storage dependencies, so every role
// branch is unit-testable in isolation.
package access

import (
	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// knownCategories are the shared corpora a scope may name. Requests naming
// anything else are violations, not typos to guess at.
var knownCategories = map[string]struct{}{
	"public_docs": {},
	"educational": {},
}

// Resolve derives the AccessScope for one request. It runs before any
// retrieval call; a scope violation here guarantees no data access was even
// attempted.
//
// # Description
//
// Resolution rules by role:
//
//   - Admin (or any principal with CanAccessAll): may target any subject,
//     any category, or nothing at all (shared material only).
//   - Employee: may target a subject from their assigned set. Asking for an
//     unassigned subject narrows to the employee's first assigned subject
//     instead of widening scope. An employee with no assignments asking for
//     a subject has nothing to narrow to, which is a scope violation.
//   - Customer: always resolves to their own single subject. Explicitly
//     asking for a different subject is a scope violation, never a silent
//     substitution.
//
// # Inputs
//
//   - principal: The authenticated caller.
//   - subjectID: Requested subject key, or empty for none.
//   - category: Requested shared-corpus category, or empty for none.
//
// # Outputs
//
//   - datatypes.AccessScope: Resolved scope carrying the principal's DLP
//     level.
//   - error: *ScopeViolationError when the target is outside any
//     assignable set.
func Resolve(principal datatypes.Principal, subjectID, category string) (datatypes.AccessScope, error) {
	if category != "" {
		if _, ok := knownCategories[category]; !ok {
			return datatypes.AccessScope{}, &ScopeViolationError{
				PrincipalID: principal.ID,
				Category:    category,
			}
		}
	}

	scope := datatypes.AccessScope{
		Category: category,
		DLPLevel: principal.DLPLevel,
	}

	if principal.CanAccessAll || principal.Role == datatypes.RoleAdmin {
		scope.Subject = subjectID
		return scope, nil
	}

	switch principal.Role {
	case datatypes.RoleCustomer:
		if len(principal.AssignedSubjects) == 0 {
			return datatypes.AccessScope{}, &ScopeViolationError{
				PrincipalID: principal.ID,
				Subject:     subjectID,
			}
		}
		own := principal.AssignedSubjects[0]
		if subjectID != "" && subjectID != own {
			return datatypes.AccessScope{}, &ScopeViolationError{
				PrincipalID: principal.ID,
				Subject:     subjectID,
			}
		}
		scope.Subject = own
		return scope, nil

	default: // employee and any future restricted role
		if subjectID == "" {
			return scope, nil
		}
		if principal.HasSubject(subjectID) {
			scope.Subject = subjectID
			return scope, nil
		}
		if len(principal.AssignedSubjects) > 0 {
			// Narrow to the first assignment rather than widening.
			scope.Subject = principal.AssignedSubjects[0]
			return scope, nil
		}
		return datatypes.AccessScope{}, &ScopeViolationError{
			PrincipalID: principal.ID,
			Subject:     subjectID,
		}
	}
}
