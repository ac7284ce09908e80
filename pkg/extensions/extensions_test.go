// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NotNil(t, opts.AuthProvider)
	require.NotNil(t, opts.AuditLogger)
	require.NotNil(t, opts.AnswerFilter)

	principal, err := opts.AuthProvider.Validate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "local-user", principal.ID)
	assert.Equal(t, datatypes.RoleAdmin, principal.Role)

	assert.NoError(t, opts.AuditLogger.Log(context.Background(), AuditEvent{EventType: "query.answered"}))

	out, err := opts.AnswerFilter.FilterAnswer(context.Background(), principal, "hola")
	require.NoError(t, err)
	assert.Equal(t, "hola", out)
}

func TestServiceOptionsBuilders(t *testing.T) {
	base := DefaultOptions()
	static := NewStaticAuthProvider(nil)
	audit := NewSlogAuditLogger(nil)

	opts := base.WithAuth(static).WithAudit(audit)
	assert.Same(t, static, opts.AuthProvider)
	assert.Same(t, audit, opts.AuditLogger)

	// The receiver is a value, so the original options are untouched.
	assert.NotSame(t, static, base.AuthProvider)
}

func TestStaticAuthProviderValidate(t *testing.T) {
	provider := NewStaticAuthProvider(map[string]datatypes.Principal{
		"tok-ana": {
			ID:       "emp-7",
			Role:     datatypes.RoleEmployee,
			AssignedSubjects: []string{"CLI-1"},
			DLPLevel: datatypes.DLPStandard,
		},
	})

	principal, err := provider.Validate(context.Background(), "tok-ana")
	require.NoError(t, err)
	assert.Equal(t, "emp-7", principal.ID)
	assert.Equal(t, datatypes.RoleEmployee, principal.Role)

	// Callers get a copy, not a handle into the registry.
	principal.AssignedSubjects = append(principal.AssignedSubjects, "CLI-9")
	again, err := provider.Validate(context.Background(), "tok-ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"CLI-1"}, again.AssignedSubjects)

	_, err = provider.Validate(context.Background(), "tok-unknown")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = provider.Validate(context.Background(), "")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestStaticAuthProviderFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	registry := `{
		"tok-admin": {"id": "admin-1", "role": "admin", "dlp_level": "privileged"},
		"tok-cust":  {"id": "cust-9", "role": "customer", "assigned_subjects": ["CLI-9"], "dlp_level": "standard"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(registry), 0o600))

	provider, err := NewStaticAuthProviderFromFile(path)
	require.NoError(t, err)

	principal, err := provider.Validate(context.Background(), "tok-cust")
	require.NoError(t, err)
	assert.Equal(t, "cust-9", principal.ID)
	assert.Equal(t, []string{"CLI-9"}, principal.AssignedSubjects)

	// A broken replacement file leaves the old table serving.
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	assert.Error(t, provider.Reload(path))
	still, err := provider.Validate(context.Background(), "tok-admin")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", still.ID)
}

func TestStaticAuthProviderFromFileRejectsMissingID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tok": {"role": "admin"}}`), 0o600))

	_, err := NewStaticAuthProviderFromFile(path)
	assert.Error(t, err)
}
