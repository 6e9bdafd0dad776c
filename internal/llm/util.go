package llm

import "strings"

// ObjectSpan returns the text from the first '{' to the last '}' inclusive.
// ok is false when there is no such span.
func ObjectSpan(text string) (span string, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
