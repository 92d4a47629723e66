// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/imajinxai/llm-arena/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports panels to JSON format.
// NOTE: JSON exports always include the complete panel and ignore the
// metadata and timestamp options.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Document is the JSON export envelope.
type Document struct {
	Version    int                    `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	PanelID    string                 `json:"panel_id"`
	Model      *model.ModelRef        `json:"model,omitempty"`
	Config     model.GenerationConfig `json:"config"`
	Messages   []model.Message        `json:"messages"`
}

// Export converts a panel to JSON.
func (e *JSONExporter) Export(p model.Panel) ([]byte, error) {
	if len(p.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	doc := Document{
		Version:    1,
		ExportedAt: e.options.now().UTC(),
		PanelID:    p.ID,
		Model:      p.Model,
		Config:     p.Config,
		Messages:   p.Messages,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
