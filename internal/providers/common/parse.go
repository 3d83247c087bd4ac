package common

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// CompactSnippet cleans an upstream body for use in error messages.
func CompactSnippet(raw string, maxLen int) string {
	value := CleanHTMLText(raw)
	if value == "" {
		return "empty response body"
	}
	runes := []rune(value)
	if len(runes) <= maxLen {
		return value
	}
	if maxLen < 4 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
