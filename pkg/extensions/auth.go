// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// ErrUnauthorized is returned when token validation fails. Implementations
// should wrap this error so callers can map it to a 401 with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// AuthProvider resolves a bearer token to the principal behind it.
//
// Implementations must be safe for concurrent use. The returned principal
// is treated as immutable by callers.
//
// The token format is implementation-specific: the file-backed provider
// treats tokens as opaque API keys, a production deployment would validate
// JWTs against an identity provider.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	// Returns ErrUnauthorized (possibly wrapped) when the token is not
	// recognized; other errors indicate provider failures.
	Validate(ctx context.Context, token string) (*datatypes.Principal, error)
}

// NopAuthProvider accepts any token and returns a local admin principal
// with privileged redaction. It exists so the service runs without any
// identity infrastructure during local development.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*datatypes.Principal, error) {
	return &datatypes.Principal{
		ID:       "local-user",
		Role:     datatypes.RoleAdmin,
		DLPLevel: datatypes.DLPPrivileged,
	}, nil
}

// StaticAuthProvider resolves tokens against an in-memory registry loaded
// from a JSON file. The file maps opaque tokens to principals:
//
//	{"tok-ana": {"id": "emp-7", "role": "employee", ...}}
//
// Reload replaces the whole table atomically, so a credential rotation
// never leaves the provider half-updated.
type StaticAuthProvider struct {
	mu         sync.RWMutex
	principals map[string]datatypes.Principal
}

// NewStaticAuthProvider builds a provider from an explicit token table.
func NewStaticAuthProvider(principals map[string]datatypes.Principal) *StaticAuthProvider {
	table := make(map[string]datatypes.Principal, len(principals))
	for token, p := range principals {
		table[token] = p
	}
	return &StaticAuthProvider{principals: table}
}

// NewStaticAuthProviderFromFile loads the token table from a JSON file.
func NewStaticAuthProviderFromFile(path string) (*StaticAuthProvider, error) {
	provider := &StaticAuthProvider{principals: map[string]datatypes.Principal{}}
	if err := provider.Reload(path); err != nil {
		return nil, err
	}
	return provider, nil
}

// Reload replaces the token table with the contents of the given file.
// On failure the previous table stays in effect.
func (p *StaticAuthProvider) Reload(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read token registry %s: %w", path, err)
	}
	var table map[string]datatypes.Principal
	if err := json.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("failed to parse token registry %s: %w", path, err)
	}
	for token, principal := range table {
		if principal.ID == "" {
			return fmt.Errorf("token registry %s: entry %q has no principal id", path, token)
		}
	}
	p.mu.Lock()
	p.principals = table
	p.mu.Unlock()
	return nil
}

func (p *StaticAuthProvider) Validate(_ context.Context, token string) (*datatypes.Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token: %w", ErrUnauthorized)
	}
	p.mu.RLock()
	principal, ok := p.principals[token]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	clone := principal
	return &clone, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticAuthProvider)(nil)
)
