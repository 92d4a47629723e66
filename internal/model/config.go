// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
)

// Bounds accepted for generation parameters.
const (
	MinOutputTokens = 1
	MaxOutputTokens = 128000
	MinTemperature  = 0.0
	MaxTemperature  = 2.0
	MinPenalty      = -2.0
	MaxPenalty      = 2.0
)

// GenerationConfig holds the sampling parameters of one panel.
// Optional fields are nil when the user never set them.
type GenerationConfig struct {
	MaxOutputTokens  int      `json:"max_output_tokens"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             *int     `json:"top_k,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// DefaultGenerationConfig returns the configuration every new panel starts with.
func DefaultGenerationConfig() GenerationConfig {
	topK := 40
	presence := 0.0
	frequency := 0.0
	return GenerationConfig{
		MaxOutputTokens:  4096,
		Temperature:      0.7,
		TopP:             0.95,
		TopK:             &topK,
		PresencePenalty:  &presence,
		FrequencyPenalty: &frequency,
	}
}

// Clone returns a deep copy so optional pointers are never shared between panels.
func (c GenerationConfig) Clone() GenerationConfig {
	out := c
	if c.TopK != nil {
		v := *c.TopK
		out.TopK = &v
	}
	if c.PresencePenalty != nil {
		v := *c.PresencePenalty
		out.PresencePenalty = &v
	}
	if c.FrequencyPenalty != nil {
		v := *c.FrequencyPenalty
		out.FrequencyPenalty = &v
	}
	return out
}

// Validate checks every parameter against the accepted bounds.
func (c GenerationConfig) Validate() error {
	var errs []error
	if c.MaxOutputTokens < MinOutputTokens || c.MaxOutputTokens > MaxOutputTokens {
		errs = append(errs, fmt.Errorf("max_output_tokens %d out of range [%d, %d]", c.MaxOutputTokens, MinOutputTokens, MaxOutputTokens))
	}
	if c.Temperature < MinTemperature || c.Temperature > MaxTemperature {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [%.1f, %.1f]", c.Temperature, MinTemperature, MaxTemperature))
	}
	if c.TopP < 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p %.2f out of range [0, 1]", c.TopP))
	}
	if c.TopK != nil && *c.TopK < 0 {
		errs = append(errs, fmt.Errorf("top_k %d must not be negative", *c.TopK))
	}
	if c.PresencePenalty != nil && (*c.PresencePenalty < MinPenalty || *c.PresencePenalty > MaxPenalty) {
		errs = append(errs, fmt.Errorf("presence_penalty %.2f out of range [%.1f, %.1f]", *c.PresencePenalty, MinPenalty, MaxPenalty))
	}
	if c.FrequencyPenalty != nil && (*c.FrequencyPenalty < MinPenalty || *c.FrequencyPenalty > MaxPenalty) {
		errs = append(errs, fmt.Errorf("frequency_penalty %.2f out of range [%.1f, %.1f]", *c.FrequencyPenalty, MinPenalty, MaxPenalty))
	}
	return errors.Join(errs...)
}
