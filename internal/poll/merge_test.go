package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedmill/internal/feedmill"
	"feedmill/internal/fetch"
	"feedmill/internal/parse"
)

func strPtr(s string) *string { return &s }

func TestMergeTakesParsedValues(t *testing.T) {
	now := time.Now()
	stored := feedmill.Feed{
		ID:    1,
		URLs:  feedmill.URLList{"https://example.com/feed"},
		Title: strPtr("Old Title"),
	}
	parsed := parse.Feed{
		Title:       "New Title",
		Description: "A feed",
		Link:        "https://example.com",
	}

	merged := merge(stored, parsed, fetch.Document{}, now)

	assert.Equal(t, "New Title", *merged.Title)
	assert.Equal(t, "A feed", *merged.Description)
	assert.Equal(t, "https://example.com", *merged.Link)
	require.NotNil(t, merged.DateFetched)
	assert.Equal(t, now, *merged.DateFetched)
	assert.Equal(t, now, merged.DateUpdated)
}

func TestMergeNeverRegressesToEmpty(t *testing.T) {
	stored := feedmill.Feed{
		ID:          1,
		URLs:        feedmill.URLList{"https://example.com/feed"},
		Title:       strPtr("Kept Title"),
		Description: strPtr("Kept description"),
	}

	merged := merge(stored, parse.Feed{}, fetch.Document{}, time.Now())

	assert.Equal(t, "Kept Title", *merged.Title)
	assert.Equal(t, "Kept description", *merged.Description)
}

func TestMergeAppendsResolvedURL(t *testing.T) {
	stored := feedmill.Feed{
		ID:   1,
		URLs: feedmill.URLList{"https://example.com/feed"},
	}

	merged := merge(stored, parse.Feed{}, fetch.Document{FinalURL: "https://example.com/feed.xml"}, time.Now())
	assert.Equal(t, feedmill.URLList{"https://example.com/feed", "https://example.com/feed.xml"}, merged.URLs)
	assert.Equal(t, "https://example.com/feed.xml", merged.URLs.Primary())

	// A URL the feed is already known by does not duplicate.
	again := merge(merged, parse.Feed{}, fetch.Document{FinalURL: "https://example.com/feed"}, time.Now())
	assert.Len(t, again.URLs, 2)

	// The stored list is not shared with the merged one.
	assert.Len(t, stored.URLs, 1)
}

func TestMergeRecordsLastModified(t *testing.T) {
	stored := feedmill.Feed{
		ID:               1,
		URLs:             feedmill.URLList{"https://example.com/feed"},
		DateLastModified: strPtr("Mon, 02 Jan 2006 15:04:05 GMT"),
	}

	merged := merge(stored, parse.Feed{}, fetch.Document{LastModified: "Tue, 03 Jan 2006 15:04:05 GMT"}, time.Now())
	require.NotNil(t, merged.DateLastModified)
	assert.Equal(t, "Tue, 03 Jan 2006 15:04:05 GMT", *merged.DateLastModified)

	// An absent header keeps the stored value.
	kept := merge(stored, parse.Feed{}, fetch.Document{}, time.Now())
	require.NotNil(t, kept.DateLastModified)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", *kept.DateLastModified)
}
