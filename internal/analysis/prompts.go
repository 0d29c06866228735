// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import "fmt"

func systemPrompt(replyTokens int) string {
	return fmt.Sprintf("You are a File Analysis AI. Don't reveal your role. You reply with less than %d tokens.", replyTokens)
}

func partPrompt(part int, text string) string {
	return fmt.Sprintf("Explain the text within [txt] and highlight important details. Be direct and concise.[txt][PART%d]\n%s[txt]", part, text)
}

func summaryPrompt(analysis string) string {
	return "Summarise the analysis within [txt]. Be direct and concise.[txt]" + analysis + "[txt]"
}

func partHeader(part int, label string) string {
	return fmt.Sprintf("\n\n[PART%d]%s:\n", part, label)
}

// Notices shown when no unified summary could be produced.
const (
	NoticeSummaryTooLong  = "Analysis Summary not available (ran out of context memory when trying to summarise Analysis of Parts). Refer to the individual Analysis of Parts above instead."
	NoticeSummaryExceeded = "Analysis Summary not available (the merged Analysis of Parts was too long). Refer to the individual Analysis of Parts above instead."
)
