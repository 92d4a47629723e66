// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for panel exporters.
type Exporter interface {
	// Export converts a panel's conversation to the target format.
	Export(p model.Panel) ([]byte, error)

	// FileExtension returns the file extension (e.g., ".md").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// ErrEmptyConversation is returned when a panel has no messages to export.
var ErrEmptyConversation = errors.New("conversation has no messages")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds frontmatter and a settings section.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// Now stamps the export. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// ForFormat returns the exporter for "md"/"markdown" or "json".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "md", "markdown", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use md or json)", format)
	}
}

// ForPath picks the exporter from a file name's extension.
func ForPath(path string, opts *Options) (Exporter, error) {
	return ForFormat(filepath.Ext(path), opts)
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile exports p into opts.OutputDir under a generated name and returns
// the path written.
func ToFile(p model.Panel, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}

	path := filepath.Join(dir, Filename(p, exporter, opts))
	if err := WriteFile(path, p, exporter); err != nil {
		return "", err
	}
	return path, nil
}

// Filename returns the generated export name for p, without a directory.
func Filename(p model.Panel, exporter Exporter, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	return fmt.Sprintf("arena_%s_%s%s",
		sanitizeFilename(panelLabel(p)),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)
}

// WriteFile exports p to exactly path.
// RELIABILITY: Atomic write with fsync prevents a partial export on crash
func WriteFile(path string, p model.Panel, exporter Exporter) error {
	content, err := exporter.Export(p)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	err = util.AtomicWrite(path, 0644, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// panelLabel names a panel by its model, falling back to its id.
func panelLabel(p model.Panel) string {
	if p.Model != nil {
		return p.Model.DisplayName()
	}
	return p.ID
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	if runes := []rune(s); len(runes) > maxLen {
		s = string(runes[:maxLen])
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "panel"
	}
	return b.String()
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
