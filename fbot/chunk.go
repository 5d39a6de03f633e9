package fbot

import (
	"strings"
	"unicode/utf8"
)

// splitMessage splits text into ordered chunks of at most maxLength
// characters, preferring to break on line boundaries. A single line longer
// than maxLength is hard-split into fixed-size windows. Chunks that are
// empty after trimming are dropped; if that leaves nothing for non-empty
// input, the whole text is window-split as a last resort.
func splitMessage(text string, maxLength int) []string {
	if utf8.RuneCountInString(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current.Reset()
		currentLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		switch {
		case currentLen == 0 && lineLen > maxLength:
			// Oversized line with nothing buffered: window-split it
			// directly, leaving the buffer untouched.
			chunks = append(chunks, splitWindows(line, maxLength)...)
		case currentLen+lineLen+1 <= maxLength:
			current.WriteString(line)
			current.WriteByte('\n')
			currentLen += lineLen + 1
		default:
			flush()
			if lineLen > maxLength {
				chunks = append(chunks, splitWindows(line, maxLength)...)
			} else {
				current.WriteString(line)
				current.WriteByte('\n')
				currentLen = lineLen + 1
			}
		}
	}
	flush()

	filtered := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 && text != "" {
		return splitWindows(text, maxLength)
	}
	return filtered
}

// splitWindows splits s into fixed-size windows of at most size runes,
// with no regard for word or line boundaries.
func splitWindows(s string, size int) []string {
	runes := []rune(s)
	parts := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}
