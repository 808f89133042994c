package poll

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"feedmill/internal/parse"
)

// Policy selects which entry fields feed the dedup fingerprint.
//
// URL-primary with a title/content fallback is the default: some feeds
// rewrite tracking parameters on every fetch (URL equality too strict),
// others omit stable ids entirely (URL equality too loose). The field
// subset is a knob, not a hidden constant.
type Policy struct {
	// PreferURL fingerprints on the entry link alone whenever one is
	// present. When false the link is hashed together with the fallback
	// fields.
	PreferURL bool
	// ContentPrefixLen bounds how many bytes of content participate in
	// the fallback hash.
	ContentPrefixLen int
}

func DefaultPolicy() Policy {
	return Policy{PreferURL: true, ContentPrefixLen: 1024}
}

// Fingerprint computes a stable content hash for one raw entry. It
// reports false when no field yields a usable input; such entries are
// unprocessable and must be skipped, never stored.
func (p Policy) Fingerprint(e parse.Entry) (string, bool) {
	link := strings.TrimSpace(e.Link)
	title := normalizeText(e.Title)
	content := normalizeText(e.Content)
	if p.ContentPrefixLen > 0 && len(content) > p.ContentPrefixLen {
		content = content[:p.ContentPrefixLen]
	}

	var parts []string
	switch {
	case p.PreferURL && link != "":
		parts = []string{"url", link}
	case title != "" || content != "":
		parts = []string{"fields", link, title, content}
	default:
		return "", false
	}

	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// normalizeText lowercases and collapses runs of whitespace so cosmetic
// re-publications hash identically.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
