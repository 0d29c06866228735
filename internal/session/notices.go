// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "fmt"

// User-visible notices appended to the transcript.
const (
	NoticeContextExceeded        = "Context/memory exceeded. Wiping context/memory. The assistant will not be able to reference earlier parts of the conversation."
	NoticeCompressing            = "Context/memory limit reached. Compressing context/memory..."
	NoticeCompressionDone        = "Completed context/memory compression. Some details of the earlier conversation may be lost due to compression."
	NoticeCompressionFailed      = "Failed context/memory compression. The earlier conversation is kept as it was."
	NoticeCompressionInterrupted = "Context/memory compression interrupted. The earlier conversation is kept as it was."
	NoticeResend                 = "Your last message was not answered yet. Send it again to continue."
	NoticeBudgetRejected         = "Your message is too long for the current context size. Shorten it or raise context_size."
	NoticeGenerationFailed       = "The assistant failed to reply. See the log for details."
	NoticeAnalysisCancelled      = "File analysis cancelled."
	NoticeMemoryReset            = "Memory/context has been reset"
)

// BusyNotice asks the user to wait for the given phase.
func BusyNotice(s Status) string {
	return fmt.Sprintf("Please wait till the assistant is done with the '%s' phase.", s)
}

// FileSizeNotice gives the file size that still yields a unified summary.
func FileSizeNotice(contextSize, idealKB int) string {
	return fmt.Sprintf("For %d token context size, ideal file size is <=%dkb. Larger files can be used, but may not produce a single final analysis summary.", contextSize, idealKB)
}

// AnalysisRequest is the user entry recorded for a file analysis.
func AnalysisRequest(path string) string {
	return "Analyse this file: " + path
}
