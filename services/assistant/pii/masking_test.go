// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pii

import (
	"testing"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestMaskNationalID(t *testing.T) {
	assert.Equal(t, "**.***.678", MaskNationalID("12.345.678"))
	assert.Equal(t, "*****678", MaskNationalID("12345678"))
	assert.Equal(t, "***", MaskNationalID("19"))
}

func TestMaskTaxID(t *testing.T) {
	assert.Equal(t, "20-********-3", MaskTaxID("20-12345678-3"))
	assert.Equal(t, "27-********-9", MaskTaxID("27112223339"))
	assert.Equal(t, "***", MaskTaxID("12345"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "m***@example.com", MaskEmail("maria@example.com"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
	assert.Equal(t, "***", MaskEmail("@nolocal.com"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "****8901", MaskPhone("+54 11 4567-8901"))
	assert.Equal(t, "***", MaskPhone("911"))
}

func TestSnapshotFor(t *testing.T) {
	snap := &datatypes.Snapshot{
		SubjectKey: "subj-100",
		FullName:   "Maria Gomez",
		NationalID: "12.345.678",
		TaxID:      "27-12345678-9",
		Email:      "maria@example.com",
		Phone:      "+54 11 4567-8901",
	}

	t.Run("admin sees raw values", func(t *testing.T) {
		admin := datatypes.Principal{ID: "a1", Role: datatypes.RoleAdmin, CanAccessAll: true}
		got := SnapshotFor(admin, snap)
		assert.Equal(t, "12.345.678", got.NationalID)
		assert.Equal(t, "maria@example.com", got.Email)
	})

	t.Run("owner sees raw values", func(t *testing.T) {
		owner := datatypes.Principal{
			ID:               "c1",
			Role:             datatypes.RoleCustomer,
			AssignedSubjects: []string{"subj-100"},
		}
		got := SnapshotFor(owner, snap)
		assert.Equal(t, "27-12345678-9", got.TaxID)
	})

	t.Run("employee sees masked identifiers", func(t *testing.T) {
		emp := datatypes.Principal{
			ID:               "e1",
			Role:             datatypes.RoleEmployee,
			AssignedSubjects: []string{"subj-100"},
		}
		got := SnapshotFor(emp, snap)
		assert.Equal(t, "**.***.678", got.NationalID)
		assert.Equal(t, "27-********-9", got.TaxID)
		assert.Equal(t, "m***@example.com", got.Email)
		assert.Equal(t, "****8901", got.Phone)

		// Stored record is untouched.
		assert.Equal(t, "12.345.678", snap.NationalID)
	})

	t.Run("nil snapshot", func(t *testing.T) {
		admin := datatypes.Principal{Role: datatypes.RoleAdmin}
		assert.Nil(t, SnapshotFor(admin, nil))
	})

	t.Run("absent fields stay absent", func(t *testing.T) {
		partial := &datatypes.Snapshot{
			SubjectKey: "subj-200",
			FullName:   "Jose Perez",
			NationalID: "12.345.678",
		}
		emp := datatypes.Principal{
			ID:               "e1",
			Role:             datatypes.RoleEmployee,
			AssignedSubjects: []string{"subj-200"},
		}
		got := SnapshotFor(emp, partial)
		assert.Equal(t, "**.***.678", got.NationalID)
		assert.Empty(t, got.TaxID)
		assert.Empty(t, got.Email)
		assert.Empty(t, got.Phone)
	})
}

func TestMaskersKeepEmptyInputEmpty(t *testing.T) {
	assert.Empty(t, MaskNationalID(""))
	assert.Empty(t, MaskTaxID(""))
	assert.Empty(t, MaskEmail(""))
	assert.Empty(t, MaskPhone(""))
}
