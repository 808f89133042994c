// Package parse converts raw feed documents into a canonical in-memory
// representation.
package parse

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

type (
	// Feed is the canonical form of one parsed feed document.
	Feed struct {
		// Format discriminates the source flavor: "rss", "atom" or "json".
		Format      string
		Title       string
		Link        string
		Description string
		Published   *time.Time
		Entries     []Entry
	}

	// Entry is a single raw item as it appeared in the document. Content
	// is unsanitized; sanitization happens downstream, right before
	// persistence.
	Entry struct {
		Link      string
		Title     string
		Author    string
		Content   string
		Published *time.Time
	}
)

type Parser struct {
	inner *gofeed.Parser
}

func New() *Parser {
	return &Parser{inner: gofeed.NewParser()}
}

// Parse decodes raw into a [Feed]. With skipEntries set only feed-level
// identity is extracted, which is all a pre-subscription probe needs.
//
// Unparseable dates are treated as absent, never as an error. A malformed
// document is the only failure mode.
func (p *Parser) Parse(raw []byte, skipEntries bool) (Feed, error) {
	parsed, err := p.inner.Parse(bytes.NewReader(raw))
	if err != nil {
		return Feed{}, fmt.Errorf("error parsing feed document: %w", err)
	}

	feed := Feed{
		Format:      parsed.FeedType,
		Title:       parsed.Title,
		Link:        parsed.Link,
		Description: parsed.Description,
		Published:   firstTime(parsed.PublishedParsed, parsed.UpdatedParsed),
	}
	if skipEntries {
		return feed, nil
	}

	feed.Entries = make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		content := item.Content
		if content == "" {
			content = item.Description
		}

		var author string
		if item.Author != nil {
			author = item.Author.Name
		}

		feed.Entries = append(feed.Entries, Entry{
			Link:      item.Link,
			Title:     item.Title,
			Author:    author,
			Content:   content,
			Published: firstTime(item.PublishedParsed, item.UpdatedParsed),
		})
	}

	return feed, nil
}

func firstTime(times ...*time.Time) *time.Time {
	for _, t := range times {
		if t != nil && !t.IsZero() {
			return t
		}
	}
	return nil
}
