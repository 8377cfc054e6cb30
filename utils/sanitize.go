package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user supplied plain text fields and trims whitespace.
// Input is unescaped before sanitizing so encoded tags are removed too; the result stays HTML-escaped.
func SanitizeText(input string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(html.UnescapeString(input)))
}
