// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imajinxai/llm-arena/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports panels to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontmatter is the YAML header of a Markdown export.
type frontmatter struct {
	Title       string  `yaml:"title"`
	Model       string  `yaml:"model,omitempty"`
	Provider    string  `yaml:"provider,omitempty"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_output_tokens"`
	Messages    int     `yaml:"messages"`
	Exported    string  `yaml:"exported"`
	Generator   string  `yaml:"generator"`
}

// Export converts a panel to Markdown.
func (e *MarkdownExporter) Export(p model.Panel) ([]byte, error) {
	if len(p.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	now := e.options.now()
	title := panelLabel(p)

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm := frontmatter{
			Title:       title,
			Temperature: p.Config.Temperature,
			TopP:        p.Config.TopP,
			MaxTokens:   p.Config.MaxOutputTokens,
			Messages:    len(p.Messages),
			Exported:    now.Format(time.RFC3339),
			Generator:   "llm-arena",
		}
		if p.Model != nil {
			fm.Model = p.Model.ID
			fm.Provider = p.Model.Provider
		}
		// yaml.v3 quotes anything that would otherwise break the header.
		data, err := yaml.Marshal(fm)
		if err != nil {
			return nil, fmt.Errorf("encode frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(data)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Settings\n\n")
		if p.Model != nil {
			fmt.Fprintf(&sb, "- **Model**: %s (`%s`)\n", p.Model.DisplayName(), p.Model.ID)
			fmt.Fprintf(&sb, "- **Pricing**: %s\n", p.Model.CostString())
			fmt.Fprintf(&sb, "- **Context**: %s\n", p.Model.ContextString())
		}
		fmt.Fprintf(&sb, "- **Temperature**: %g\n", p.Config.Temperature)
		fmt.Fprintf(&sb, "- **Top P**: %g\n", p.Config.TopP)
		fmt.Fprintf(&sb, "- **Max Output Tokens**: %d\n", p.Config.MaxOutputTokens)
		fmt.Fprintf(&sb, "- **Started**: %s\n", formatTimestamp(p.Messages[0].CreatedAt))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range p.Messages {
		label := e.formatRoleLabel(msg.Role)
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if i < len(p.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from llm-arena on %s*\n", now.Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatRoleLabel returns a formatted label for the message role.
func (e *MarkdownExporter) formatRoleLabel(role model.Role) string {
	if role.Valid() {
		return role.DisplayName()
	}
	if role == "" {
		return "Unknown"
	}
	return string(role)
}

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}
