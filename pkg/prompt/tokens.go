package prompt

import (
	"unicode/utf8"

	"github.com/ravik/senna/pkg/session"
)

// TruncationMarker is appended to any content cut down to fit a token budget.
const TruncationMarker = "... [truncated]"

// EstimateTokens estimates the token count of a string as ceil(len/4).
// Heuristic only: used for budgeting and logging, never billing.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// EstimateMessageTokens estimates the total token count of a message list.
func EstimateMessageTokens(messages []session.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// TruncateToTokens cuts s down so its estimated token count fits maxTokens,
// appending TruncationMarker. Idempotent: truncating an already-truncated
// string is a no-op.
func TruncateToTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(s) <= maxTokens {
		return s
	}

	maxChars := maxTokens * 4
	if maxChars <= len(TruncationMarker) {
		// Budget too small to carry the marker at all.
		return trimToRuneBoundary(s, maxChars)
	}

	keep := maxChars - len(TruncationMarker)
	return trimToRuneBoundary(s, keep) + TruncationMarker
}

func trimToRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
