// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import "fmt"

// DefaultSystemPrompt is used when no personality is configured.
const DefaultSystemPrompt = "You are an AI Assistant."

// CompressionSystemPrompt frames the compression turn.
const CompressionSystemPrompt = "You're a text summariser. Don't reveal your role. You never forget my name and the name I call you."

// CompressionRequest is the internal user message asking for a summary.
func CompressionRequest(b Budget) string {
	return fmt.Sprintf("Summarise our conversation using less than %d characters. Use short paragraph style.", b.SummaryCharLimit())
}
