package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentRemovesScripts(t *testing.T) {
	s := New()

	got := s.Content("https://example.com", `<p>hello</p><script>alert("x")</script>`)
	assert.Equal(t, "<p>hello</p>", got)
}

func TestContentKeepsUGCMarkup(t *testing.T) {
	s := New()

	got := s.Content("https://example.com", `<p>read <a href="https://example.com/more" rel="nofollow">more</a></p>`)
	assert.Contains(t, got, `<a href="https://example.com/more"`)
}

func TestContentCapsLength(t *testing.T) {
	s := New()

	got := s.Content("", strings.Repeat("a", maxContentLen+100))
	assert.Len(t, got, maxContentLen)
}

func TestStrip(t *testing.T) {
	s := New()

	assert.Equal(t, "A bold title", s.Strip("  <b>A bold title</b>\n"))
	assert.Equal(t, "plain", s.Strip("plain"))
	assert.Len(t, s.Strip(strings.Repeat("x", 5000)), 2048)
}
