// internal/app/system/htmlsanitize/htmlsanitize.go

// Package htmlsanitize reduces user-supplied text to plain text before it is
// stored or rendered into cards.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict drops every tag and the content of script and style elements.
// bluemonday policies are safe for concurrent use once built.
var strict = bluemonday.StrictPolicy()

// PlainText strips all markup from s, decodes entities and trims surrounding
// whitespace. The result is text, not HTML: renderers must still escape it.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
