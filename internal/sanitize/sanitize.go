// Package sanitize cleans entry HTML before it is persisted.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Caps stored content so one pathological entry can't balloon the database.
const maxContentLen = 64 << 10

var (
	contentPolicy = bluemonday.UGCPolicy()
	stripPolicy   = bluemonday.StrictPolicy()
)

// Sanitizer reduces untrusted HTML to a safe subset. baseURL is accepted
// so relative links survive a future resolution pass; the policy itself
// does not rewrite them.
type Sanitizer struct{}

func New() Sanitizer { return Sanitizer{} }

// Content keeps user-generated-content markup (paragraphs, links, images)
// and removes everything executable.
func (Sanitizer) Content(baseURL, rawHTML string) string {
	s := strings.TrimSpace(contentPolicy.Sanitize(rawHTML))
	if len(s) > maxContentLen {
		s = s[:maxContentLen]
	}
	return s
}

// Strip removes all html tags from the string, usually a title.
//
// Also limits the length of the string so there's not a massive chunk of text being output.
func (Sanitizer) Strip(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if len(s) > 2048 {
		s = s[:2048]
	}

	return s
}
