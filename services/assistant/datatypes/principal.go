// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Role identifies the kind of caller behind a request.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleCustomer Role = "customer"
)

// DLPLevel controls how answer text is redacted before delivery.
type DLPLevel string

const (
	// DLPStandard replaces every detected PII span with a typed placeholder.
	DLPStandard DLPLevel = "standard"

	// DLPPrivileged passes answer text through unchanged. Reserved for
	// callers with an audited business need to see raw values.
	DLPPrivileged DLPLevel = "privileged"
)

// Principal is the authenticated caller as resolved by the auth middleware.
type Principal struct {
	// ID uniquely identifies the caller.
	ID string `json:"id"`

	// Role determines scope resolution rules.
	Role Role `json:"role"`

	// CanAccessAll grants unrestricted subject access (admin-equivalent).
	CanAccessAll bool `json:"can_access_all"`

	// AssignedSubjects are the subject keys this caller may query.
	// For customers this contains exactly their own subject key.
	AssignedSubjects []string `json:"assigned_subjects,omitempty"`

	// DLPLevel is the redaction level applied to this caller's answers.
	DLPLevel DLPLevel `json:"dlp_level"`
}

// HasSubject reports whether the given subject key is in the caller's
// assigned set.
func (p *Principal) HasSubject(subject string) bool {
	for _, s := range p.AssignedSubjects {
		if s == subject {
			return true
		}
	}
	return false
}

// AccessScope is the resolved retrieval scope for one request. Every
// retrieval and generation step downstream of scope resolution operates
// strictly within it.
type AccessScope struct {
	// Subject is the subject key this request may read, or empty when the
	// request targets shared material only.
	Subject string `json:"subject,omitempty"`

	// Category restricts retrieval to one shared corpus ("public_docs",
	// "educational"). Empty means no category restriction.
	Category string `json:"category,omitempty"`

	// DLPLevel is copied from the principal at resolution time so the
	// redaction stage never needs to re-consult identity state.
	DLPLevel DLPLevel `json:"dlp_level"`
}
