// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
)

// =============================================================================
// TEXT EXPORTER
// =============================================================================

// TextExporter writes the transcript as the chat window shows it.
type TextExporter struct {
	options *Options
}

// NewTextExporter creates a new plain text exporter.
func NewTextExporter(opts *Options) *TextExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TextExporter{options: opts}
}

// Export converts a transcript to plain text.
func (e *TextExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "%s\n", t.Title)
		fmt.Fprintf(&sb, "Started: %s\n", formatTimestamp(t.CreatedAt))
		if t.Meta.Model != "" {
			fmt.Fprintf(&sb, "Model: %s\n", t.Meta.Model)
		}
		if t.Meta.ContextSize > 0 {
			fmt.Fprintf(&sb, "Context: %d tokens (%s)\n", t.Meta.ContextSize, t.Meta.Strategy)
		}
		sb.WriteString("\n")
	}

	for _, entry := range t.Entries {
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "[%s] ", formatShortTimestamp(entry.Time))
		}
		sb.WriteString(textLabel(entry))
		sb.WriteString(strings.TrimSpace(entry.Text))
		if entry.Cancelled {
			sb.WriteString(" [stopped]")
		}
		sb.WriteString("\n\n")
	}

	return []byte(strings.TrimRight(sb.String(), "\n") + "\n"), nil
}

// FileExtension returns the file extension for plain text.
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for plain text.
func (e *TextExporter) MimeType() string {
	return "text/plain"
}

func textLabel(entry Entry) string {
	switch entry.Kind {
	case EntryUser:
		return "You: "
	case EntryAssistant:
		return "AI: "
	case EntryAnalysis:
		return "AI (file analysis): "
	default:
		return "** "
	}
}
