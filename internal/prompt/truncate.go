package prompt

import "unicode/utf8"

// DefaultMaxChars bounds each diff and related file body in the prompt.
const DefaultMaxChars = 8000

// TruncationMarker separates the kept head and tail of a truncated text.
const TruncationMarker = "\n... <truncated> ...\n"

// Truncate bounds text to limit characters, keeping the first and last halves
// around TruncationMarker. The result never exceeds limit, so truncating twice
// changes nothing.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	marker := []rune(TruncationMarker)
	keep := limit - len(marker)
	if keep <= 0 {
		return string(runes[:limit])
	}
	head := keep / 2
	tail := keep - head
	return string(runes[:head]) + TruncationMarker + string(runes[len(runes)-tail:])
}
