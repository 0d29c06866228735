// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/ctxchat/internal/util"
)

// ErrEmptyTranscript is returned when there is nothing to export.
var ErrEmptyTranscript = errors.New("transcript has no entries")

// =============================================================================
// TRANSCRIPT
// =============================================================================

// EntryKind classifies a transcript entry.
type EntryKind string

const (
	EntryUser      EntryKind = "user"
	EntryAssistant EntryKind = "assistant"
	EntryNotice    EntryKind = "notice"
	EntryAnalysis  EntryKind = "analysis"
)

// Entry is one block of the transcript.
type Entry struct {
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
	// Cancelled marks a reply the user stopped.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Meta describes the session a transcript came from.
type Meta struct {
	Model       string `json:"model,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
	Strategy    string `json:"context_mgmt,omitempty"`
}

// Transcript is an immutable copy of the recorded conversation.
type Transcript struct {
	Title     string    `json:"title"`
	Meta      Meta      `json:"meta"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// validate rejects transcripts that cannot be exported.
func (t *Transcript) validate() error {
	if t == nil {
		return errors.New("transcript is nil")
	}
	if len(t.Entries) == 0 {
		return ErrEmptyTranscript
	}
	return nil
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one format.
type Exporter interface {
	// Export converts the transcript to the target format.
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the format.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds the model and context settings.
	IncludeMetadata bool

	// IncludeTimestamps adds per-entry times.
	IncludeTimestamps bool

	// Now stamps the export. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// ExporterFor picks the exporter for a file name by extension. Unknown or
// missing extensions export plain text.
func ExporterFor(path string, opts *Options) Exporter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return NewMarkdownExporter(opts)
	case ".json":
		return NewJSONExporter(opts)
	default:
		return NewTextExporter(opts)
	}
}

// ToFile exports t to path in the format its extension names. An empty path
// writes a generated file name in the current directory. It returns the path
// written.
func ToFile(t *Transcript, path string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := t.validate(); err != nil {
		return "", err
	}

	if path == "" {
		path = DefaultFileName(t, opts.now(), ".txt")
	}
	exporter := ExporterFor(path, opts)

	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	if err := util.AtomicWriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// DefaultFileName builds "chat_<title>_<timestamp><ext>".
func DefaultFileName(t *Transcript, now time.Time, ext string) string {
	title := ""
	if t != nil {
		title = t.Title
	}
	return fmt.Sprintf("chat_%s_%s%s", sanitizeFilename(title), now.Format("20060102_150405"), ext)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(strings.TrimSpace(s), 50)

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	var b strings.Builder
	for _, r := range s {
		if replacement, found := replacer[r]; found {
			b.WriteRune(replacement)
		} else if r < 32 || r == 127 {
			b.WriteRune('-')
		} else {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "conversation"
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
