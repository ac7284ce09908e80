// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pii

import (
	"strings"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// MaskNationalID keeps the last three digits of a national identity number
// and replaces the rest, preserving the dotted grouping when present.
//
//	"12.345.678" -> "**.***.678"
//	"12345678"   -> "*****678"
func MaskNationalID(v string) string {
	if v == "" {
		return ""
	}
	digits := digitsOf(v)
	if len(digits) < 3 {
		return "***"
	}
	last := digits[len(digits)-3:]
	if strings.Contains(v, ".") {
		return "**.***." + last
	}
	return strings.Repeat("*", len(digits)-3) + last
}

// MaskTaxID keeps the two-digit prefix and the check digit of a tax
// identification number.
//
//	"20-12345678-3" -> "20-********-3"
func MaskTaxID(v string) string {
	if v == "" {
		return ""
	}
	digits := digitsOf(v)
	if len(digits) != 11 {
		return "***"
	}
	return digits[:2] + "-********-" + digits[10:]
}

// MaskEmail keeps the first character of the local part and the full domain.
//
//	"maria@example.com" -> "m***@example.com"
func MaskEmail(v string) string {
	if v == "" {
		return ""
	}
	at := strings.Index(v, "@")
	if at < 1 {
		return "***"
	}
	return v[:1] + "***" + v[at:]
}

// MaskPhone keeps the last four digits.
//
//	"+54 11 4567-8901" -> "****8901"
func MaskPhone(v string) string {
	if v == "" {
		return ""
	}
	digits := digitsOf(v)
	if len(digits) < 4 {
		return "***"
	}
	return "****" + digits[len(digits)-4:]
}

// SnapshotFor returns a copy of snap with identifiers masked according to the
// viewer's role. Admins and the subject themselves see the full record;
// employees and everyone else get masked identifiers. Fields the record
// does not carry stay empty rather than becoming a placeholder. The input
// snapshot is never modified.
func SnapshotFor(viewer datatypes.Principal, snap *datatypes.Snapshot) *datatypes.Snapshot {
	if snap == nil {
		return nil
	}
	out := snap.Clone()
	if viewer.Role == datatypes.RoleAdmin {
		return out
	}
	if viewer.Role == datatypes.RoleCustomer && viewer.HasSubject(snap.SubjectKey) {
		return out
	}
	out.NationalID = MaskNationalID(out.NationalID)
	out.TaxID = MaskTaxID(out.TaxID)
	out.Email = MaskEmail(out.Email)
	out.Phone = MaskPhone(out.Phone)
	return out
}

func digitsOf(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
