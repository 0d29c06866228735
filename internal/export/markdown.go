// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown format.
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

type frontmatter struct {
	Title       string `yaml:"title"`
	Model       string `yaml:"model,omitempty"`
	ContextSize int    `yaml:"context_size,omitempty"`
	ContextMgmt string `yaml:"context_mgmt,omitempty"`
	Date        string `yaml:"date"`
	Entries     int    `yaml:"entries"`
	Exported    string `yaml:"exported"`
	Generator   string `yaml:"generator"`
}

// Export converts a transcript to Markdown format.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontmatter{
			Title:       t.Title,
			Model:       t.Meta.Model,
			ContextSize: t.Meta.ContextSize,
			ContextMgmt: t.Meta.Strategy,
			Date:        t.CreatedAt.Format(time.RFC3339),
			Entries:     len(t.Entries),
			Exported:    e.options.now().Format(time.RFC3339),
			Generator:   "ctxchat",
		})
		if err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Title))

	for i, entry := range t.Entries {
		label := markdownLabel(entry)
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(entry.Time))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if entry.Kind == EntryNotice {
			fmt.Fprintf(&sb, "> %s", strings.ReplaceAll(strings.TrimSpace(entry.Text), "\n", "\n> "))
		} else {
			sb.WriteString(strings.TrimSpace(entry.Text))
		}
		if entry.Cancelled {
			sb.WriteString("\n\n*(stopped)*")
		}
		sb.WriteString("\n\n")

		if i < len(t.Entries)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from ctxchat on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))

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

// markdownLabel returns the heading for an entry.
func markdownLabel(entry Entry) string {
	switch entry.Kind {
	case EntryUser:
		return "[User]"
	case EntryAssistant:
		return "[Assistant]"
	case EntryAnalysis:
		return "[File Analysis]"
	case EntryNotice:
		return "[Notice]"
	default:
		return "Unknown"
	}
}

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}
