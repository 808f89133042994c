package poll

import (
	"time"

	"feedmill/internal/feedmill"
	"feedmill/internal/fetch"
	"feedmill/internal/parse"
)

// merge reconciles freshly parsed feed metadata with the stored record.
//
// Scalar fields take the parsed value when present and non-empty,
// otherwise keep the stored one: a known value never regresses to empty.
// URLs keep their stored order with any newly resolved URL appended.
// Identity, active flag, creation date and user-owned fields are left
// alone.
func merge(stored feedmill.Feed, parsed parse.Feed, doc fetch.Document, now time.Time) feedmill.Feed {
	out := stored

	out.Title = keepOrReplace(stored.Title, parsed.Title)
	out.Description = keepOrReplace(stored.Description, parsed.Description)
	out.Link = keepOrReplace(stored.Link, parsed.Link)

	out.URLs = append(feedmill.URLList{}, stored.URLs...)
	out.URLs.Append(doc.FinalURL)

	out.DateFetched = &now
	out.DateUpdated = now
	if doc.LastModified != "" {
		lm := doc.LastModified
		out.DateLastModified = &lm
	}

	return out
}

// updateArgs projects a merged feed onto the writable subset the Store
// accepts.
func updateArgs(merged feedmill.Feed) feedmill.UpdateFeedArgs {
	return feedmill.UpdateFeedArgs{
		Title:        merged.Title,
		Description:  merged.Description,
		Link:         merged.Link,
		URLs:         merged.URLs,
		DateFetched:  *merged.DateFetched,
		LastModified: merged.DateLastModified,
	}
}

func keepOrReplace(stored *string, parsed string) *string {
	if parsed == "" {
		return stored
	}
	return &parsed
}
