package messaging

import (
	"strings"
	"unicode/utf8"
)

// SnippetLength is the maximum preview length in runes, ellipsis included.
const SnippetLength = 120

// Snippet collapses whitespace runs and truncates content for thread list
// previews.
func Snippet(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(normalized) <= SnippetLength {
		return normalized
	}
	runes := []rune(normalized)
	return strings.TrimRight(string(runes[:SnippetLength-1]), " ") + "…"
}
