// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries or file paths. Using these validators prevents injection
// attacks (GraphQL where-filter injection, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// subjectKeyPattern matches valid subject keys.
// Allows: uppercase letters, digits, hyphens (CLI-104, EMP-7).
// Max length: 32 characters.
var subjectKeyPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{0,31}$`)

// categoryPattern matches valid document categories.
// Allows: lowercase letters, digits, underscores (public_docs, client_docs).
// Max length: 48 characters.
var categoryPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,47}$`)

// ValidateSubjectKey validates a subject key before it is interpolated
// into a retrieval filter.
//
// Valid subject keys:
//   - 1-32 characters
//   - Uppercase letters A-Z
//   - Digits 0-9
//   - Hyphens (-) as separators, e.g. CLI-104
//
// Returns an error if the key is invalid.
//
// Example:
//
//	if err := validation.ValidateSubjectKey(subjectID); err != nil {
//	    return nil, fmt.Errorf("invalid subject: %w", err)
//	}
//	// Safe to use in a where filter
func ValidateSubjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("subject key cannot be empty")
	}

	if !subjectKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid subject key format: %q (must be 1-32 uppercase alphanumeric chars or hyphens)", key)
	}

	return nil
}

// ValidateCategory validates a document category before it is used in a
// retrieval filter.
func ValidateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("category cannot be empty")
	}

	if !categoryPattern.MatchString(category) {
		return fmt.Errorf("invalid category format: %q (must be 1-48 lowercase alphanumeric chars or underscores)", category)
	}

	return nil
}

// SanitizeSubjectKey normalizes and validates a subject key.
// Returns the uppercase key if valid, or an error if invalid.
//
// Use this when accepting keys from request bodies, where clients may
// send lowercase or padded values:
//
//	safeKey, err := validation.SanitizeSubjectKey(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeSubjectKey(key string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(key))
	if err := ValidateSubjectKey(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
