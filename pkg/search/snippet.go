package search

import (
	"fmt"
	"strings"
)

const (
	// snippetWindow is the target snippet length in bytes.
	snippetWindow = 160
	// snippetLead is how much context precedes the first matched term.
	snippetLead = 40
)

// buildSnippet extracts a short text window around the first query term
// found in the matched columns. Falls back to the head of the first
// non-empty matched value when no term is found verbatim (stemmed matches).
func buildSnippet(data map[string]any, matchedColumns []string, query string) string {
	terms := strings.Fields(strings.ToLower(query))

	var fallback string
	for _, col := range matchedColumns {
		value := stringValue(data[col])
		if value == "" {
			continue
		}
		if fallback == "" {
			fallback = value
		}

		lower := strings.ToLower(value)
		for _, term := range terms {
			if pos := strings.Index(lower, term); pos >= 0 {
				return window(value, pos)
			}
		}
	}

	if fallback == "" {
		return ""
	}
	return window(fallback, 0)
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// window cuts a snippetWindow-sized slice around pos, trimming to rune
// boundaries and marking truncation with ellipses.
func window(s string, pos int) string {
	start := pos - snippetLead
	if start < 0 {
		start = 0
	}
	end := start + snippetWindow
	if end > len(s) {
		end = len(s)
		start = end - snippetWindow
		if start < 0 {
			start = 0
		}
	}

	for start > 0 && !isRuneStart(s[start]) {
		start--
	}
	for end < len(s) && !isRuneStart(s[end]) {
		end++
	}

	snippet := s[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(s) {
		snippet += "..."
	}
	return snippet
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
