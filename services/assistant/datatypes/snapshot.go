// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Product is one product line on a subject snapshot.
type Product struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Transaction is one recent movement on a subject snapshot.
type Transaction struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
}

// Snapshot is the structured per-subject record injected into prompts
// and served on the snapshot endpoint. The stored record always holds
// raw values; masking produces a derived copy per viewer and never
// mutates the original.
type Snapshot struct {
	SubjectKey string `json:"subject_key"`
	FullName   string `json:"full_name,omitempty"`

	// Identity fields. Masked per viewer role before leaving the service.
	NationalID string `json:"national_id,omitempty"`
	TaxID      string `json:"tax_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`

	Products           []Product     `json:"products,omitempty"`
	RecentTransactions []Transaction `json:"recent_transactions,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy so masking can rewrite fields freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Products = append([]Product(nil), s.Products...)
	out.RecentTransactions = append([]Transaction(nil), s.RecentTransactions...)
	return &out
}
