package render

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?\s*>`)
	paragraphRe = regexp.MustCompile(`(?i)</p\s*>`)

	stripPolicy *bluemonday.Policy
	policyOnce  sync.Once
)

// HTMLToText flattens an HTML fragment: line breaks and paragraph ends become
// newlines, remaining markup is dropped and entities are decoded.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}

	policyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})

	text := lineBreakRe.ReplaceAllString(s, "\n")
	text = paragraphRe.ReplaceAllString(text, "\n\n")

	// bluemonday escapes the text it keeps, so unescape afterwards
	text = stripPolicy.Sanitize(text)
	text = html.UnescapeString(text)

	return strings.TrimSpace(text)
}
