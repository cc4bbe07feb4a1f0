// Package htmlsanitize cleans host- and participant-supplied text.
//
// Role instructions written by hosts may carry light formatting and go
// through Sanitize. Anything shown as a plain label, such as participant
// display names, goes through PlainText, which keeps no markup at all.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugc    = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

// Sanitize returns s with unsafe markup removed and safe formatting kept.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return ugc.Sanitize(s)
}

// PlainText strips every tag from s and returns the unescaped text with
// runs of whitespace collapsed to single spaces.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}
