// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSubjectKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"client key", "CLI-104", false},
		{"employee key", "EMP-7", false},
		{"plain digits", "1042", false},
		{"empty", "", true},
		{"lowercase", "cli-104", true},
		{"leading hyphen", "-CLI", true},
		{"graphql injection", `CLI"} operator:Like valueText:"*`, true},
		{"too long", "CLI-0123456789012345678901234567890", true},
		{"whitespace", "CLI 104", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubjectKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCategory(t *testing.T) {
	assert.NoError(t, ValidateCategory("public_docs"))
	assert.NoError(t, ValidateCategory("client_docs"))
	assert.Error(t, ValidateCategory(""))
	assert.Error(t, ValidateCategory("Public_Docs"))
	assert.Error(t, ValidateCategory("docs;drop"))
	assert.Error(t, ValidateCategory("_docs"))
}

func TestSanitizeSubjectKey(t *testing.T) {
	key, err := SanitizeSubjectKey("  cli-104 ")
	require.NoError(t, err)
	assert.Equal(t, "CLI-104", key)

	_, err = SanitizeSubjectKey("cli 104")
	assert.Error(t, err)
}
