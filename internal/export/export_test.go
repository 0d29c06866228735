// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ctxchat/internal/analysis"
	"github.com/jeranaias/ctxchat/internal/session"
)

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func fixedOptions() *Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

func newRecorder() *Recorder {
	r := NewRecorder(Meta{Model: "llama3.2", ContextSize: 2048, Strategy: "sliding_window"})
	r.now = func() time.Time { return fixedNow }
	r.created = fixedNow
	return r
}

func sampleTranscript() *Transcript {
	r := newRecorder()
	r.Record(session.Event{Kind: session.EventUser, Text: "What is a goroutine?\nBe brief."})
	r.Record(session.Event{Kind: session.EventStatus, Status: session.StatusThinking})
	r.Record(session.Event{Kind: session.EventDelta, Text: "A light"})
	r.Record(session.Event{Kind: session.EventReply, Text: "A lightweight thread."})
	r.Record(session.Event{Kind: session.EventUser, Text: "And a channel?"})
	r.Record(session.Event{Kind: session.EventReply, Text: "A typed", Cancelled: true})
	r.Record(session.Event{Kind: session.EventNotice, Text: session.NoticeMemoryReset})
	return r.Snapshot()
}

// =============================================================================
// RECORDER
// =============================================================================

func TestRecorder_Record(t *testing.T) {
	tr := sampleTranscript()

	require.Len(t, tr.Entries, 5, "status and delta events are not transcript entries")
	assert.Equal(t, "What is a goroutine?", tr.Title)
	assert.Equal(t, EntryUser, tr.Entries[0].Kind)
	assert.Equal(t, EntryAssistant, tr.Entries[1].Kind)
	assert.Equal(t, "A lightweight thread.", tr.Entries[1].Text)
	assert.True(t, tr.Entries[3].Cancelled)
	assert.Equal(t, EntryNotice, tr.Entries[4].Kind)
	assert.Equal(t, fixedNow, tr.Entries[0].Time)
}

func TestRecorder_Analysis(t *testing.T) {
	r := newRecorder()
	r.Record(session.Event{
		Kind:     session.EventAnalysis,
		Text:     "Foxes jump.",
		Analysis: &analysis.Result{Analysis: "[PART1]Ln 1-3:\nabout foxes", Summary: "Foxes jump.", Unified: true},
	})

	tr := r.Snapshot()
	require.Len(t, tr.Entries, 1)
	assert.Equal(t, EntryAnalysis, tr.Entries[0].Kind)
	assert.Equal(t, "Foxes jump.", tr.Entries[0].Text)
	assert.Equal(t, "Chat", tr.Title)
}

func TestRecorder_SnapshotIsCopy(t *testing.T) {
	r := newRecorder()
	r.Note("exported")
	snap := r.Snapshot()
	r.Note("again")

	assert.Len(t, snap.Entries, 1)
	assert.Equal(t, 2, r.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Len(t, snap.Entries, 1)
}

// =============================================================================
// EXPORTERS
// =============================================================================

func TestTextExporter(t *testing.T) {
	out, err := NewTextExporter(fixedOptions()).Export(sampleTranscript())
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "Model: llama3.2\n")
	assert.Contains(t, text, "Context: 2048 tokens (sliding_window)\n")
	assert.Contains(t, text, "[15:09:26] You: What is a goroutine?\nBe brief.\n")
	assert.Contains(t, text, "AI: A lightweight thread.\n")
	assert.Contains(t, text, "AI: A typed [stopped]\n")
	assert.Contains(t, text, "** Memory/context has been reset")
	assert.True(t, strings.HasSuffix(text, "reset\n"))
}

func TestTextExporter_NoMetadata(t *testing.T) {
	opts := &Options{}
	out, err := NewTextExporter(opts).Export(sampleTranscript())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "You: What is a goroutine?"))
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(fixedOptions()).Export(sampleTranscript())
	require.NoError(t, err)

	md := string(out)
	assert.True(t, strings.HasPrefix(md, "---\n"))
	assert.Contains(t, md, "# What is a goroutine?\n")
	assert.Contains(t, md, "### [User] <sub>15:09:26</sub>")
	assert.Contains(t, md, "### [Assistant]")
	assert.Contains(t, md, "*(stopped)*")
	assert.Contains(t, md, "> Memory/context has been reset")
	assert.Contains(t, md, "*Exported from ctxchat on March 14, 2025 at 3:09 PM*")
}

func TestMarkdownExporter_FrontmatterInjection(t *testing.T) {
	tr := sampleTranscript()
	tr.Title = "Test\ninjected: true"

	out, err := NewMarkdownExporter(fixedOptions()).Export(tr)
	require.NoError(t, err)

	parts := strings.SplitN(string(out), "---\n", 3)
	require.Len(t, parts, 3)

	var fm map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(parts[1]), &fm))
	assert.Equal(t, "Test\ninjected: true", fm["title"])
	assert.NotContains(t, fm, "injected")
	assert.Equal(t, 5, fm["entries"])
}

func TestJSONExporter(t *testing.T) {
	tr := sampleTranscript()
	out, err := NewJSONExporter(fixedOptions()).Export(tr)
	require.NoError(t, err)

	var got struct {
		Transcript
		ExportedAt time.Time `json:"exported_at"`
		Generator  string    `json:"generator"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, tr.Title, got.Title)
	assert.Equal(t, tr.Meta, got.Meta)
	assert.Len(t, got.Entries, 5)
	assert.True(t, got.Entries[3].Cancelled)
	assert.Equal(t, "ctxchat", got.Generator)
	assert.True(t, fixedNow.Equal(got.ExportedAt))
}

func TestExportersRejectEmpty(t *testing.T) {
	empty := &Transcript{Title: "x"}
	for _, e := range []Exporter{NewTextExporter(nil), NewMarkdownExporter(nil), NewJSONExporter(nil)} {
		_, err := e.Export(empty)
		assert.ErrorIs(t, err, ErrEmptyTranscript, e.FileExtension())
		_, err = e.Export(nil)
		assert.Error(t, err)
	}
}

// =============================================================================
// FILES
// =============================================================================

func TestExporterFor(t *testing.T) {
	tests := map[string]string{
		"chat.md":       ".md",
		"chat.MARKDOWN": ".md",
		"chat.json":     ".json",
		"chat.txt":      ".txt",
		"chat":          ".txt",
		"chat.log":      ".txt",
	}
	for path, ext := range tests {
		assert.Equal(t, ext, ExporterFor(path, nil).FileExtension(), path)
	}
}

func TestToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "chat.md")

	written, err := ToFile(sampleTranscript(), path, fixedOptions())
	require.NoError(t, err)
	assert.Equal(t, path, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### [Assistant]")
}

func TestToFile_DefaultName(t *testing.T) {
	t.Chdir(t.TempDir())

	written, err := ToFile(sampleTranscript(), "", fixedOptions())
	require.NoError(t, err)
	assert.Equal(t, "chat_What_is_a_goroutine-_20250314_150926.txt", written)
	assert.FileExists(t, written)
}

func TestToFile_Empty(t *testing.T) {
	_, err := ToFile(newRecorder().Snapshot(), filepath.Join(t.TempDir(), "x.txt"), nil)
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello world", "hello_world"},
		{"a/b\\c:d", "a-b-c-d"},
		{"", "conversation"},
		{"   ", "conversation"},
		{"tab\there", "tab_here"},
		{"bell\x07", "bell-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}
