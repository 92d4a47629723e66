// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// MODEL REFERENCE
// =============================================================================

// ModelRef describes a model offered by the upstream endpoint.
// It is built once from a catalog entry and never mutated afterwards.
type ModelRef struct {
	// ID is the identifier sent as "model" in chat requests.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Provider is the organisation that owns the model.
	Provider string `json:"provider"`

	// Description is a one-line summary shown in pickers.
	Description string `json:"description"`

	// ContextWindow is the maximum prompt size in tokens (0 when unknown).
	ContextWindow int `json:"context_window,omitempty"`

	// InputPricing and OutputPricing are per million tokens (0 when unknown).
	InputPricing  float64 `json:"input_pricing,omitempty"`
	OutputPricing float64 `json:"output_pricing,omitempty"`

	// Icon is the URL of the provider icon.
	Icon string `json:"icon,omitempty"`
}

// DisplayName returns the name, falling back to the ID.
func (m *ModelRef) DisplayName() string {
	if m == nil {
		return "No model"
	}
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// CostString returns a formatted price pair.
// Returns "Free" when neither price is known.
func (m ModelRef) CostString() string {
	if m.InputPricing == 0 && m.OutputPricing == 0 {
		return "Free"
	}
	return fmt.Sprintf("$%s in / $%s out per 1M", formatPrice(m.InputPricing), formatPrice(m.OutputPricing))
}

func formatPrice(p float64) string {
	s := fmt.Sprintf("%.4f", p)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// ContextString returns a formatted context window string.
func (m ModelRef) ContextString() string {
	switch {
	case m.ContextWindow <= 0:
		return "unknown context"
	case m.ContextWindow >= 1000000:
		return fmt.Sprintf("%.1fM tokens", float64(m.ContextWindow)/1000000)
	case m.ContextWindow >= 1000:
		return fmt.Sprintf("%dK tokens", m.ContextWindow/1000)
	default:
		return fmt.Sprintf("%d tokens", m.ContextWindow)
	}
}

// Matches reports whether query matches the ID or the name (case-insensitive substring).
func (m ModelRef) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(m.ID), q) ||
		strings.Contains(strings.ToLower(m.Name), q) ||
		strings.Contains(strings.ToLower(m.Provider), q)
}

// FindModel looks up a model by exact ID first, then by case-insensitive name.
func FindModel(models []ModelRef, idOrName string) (ModelRef, bool) {
	for _, m := range models {
		if m.ID == idOrName {
			return m, true
		}
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, idOrName) {
			return m, true
		}
	}
	return ModelRef{}, false
}
