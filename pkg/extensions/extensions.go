// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable seams of the assistant service.
//
// The open source build uses no-op or file-backed defaults for every
// interface here. Deployments that need a real identity provider, a SIEM
// audit sink, or post-generation answer filtering inject their own
// implementations via ServiceOptions without touching the core pipeline.
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points a service constructor accepts.
//
// All fields are optional; nil fields are replaced with the no-op defaults
// from DefaultOptions.
type ServiceOptions struct {
	// AuthProvider resolves bearer tokens to principals.
	// Default: NopAuthProvider (local admin principal, any token).
	AuthProvider AuthProvider

	// AuditLogger records security-relevant events.
	// Default: NopAuditLogger (discards all events).
	AuditLogger AuditLogger

	// AnswerFilter transforms final answer text after redaction.
	// Default: NopAnswerFilter (pass-through).
	AnswerFilter AnswerFilter
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
		AnswerFilter: &NopAnswerFilter{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given AnswerFilter.
func (opts ServiceOptions) WithFilter(filter AnswerFilter) ServiceOptions {
	opts.AnswerFilter = filter
	return opts
}
