// Package feedmill holds the domain model shared by the polling engine,
// the storage layer, and the HTTP surface.
package feedmill

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type ReadState string

const (
	ReadStateUnread ReadState = "unread"
	ReadStateRead   ReadState = "read"
)

type ArchiveState string

const (
	ArchiveStateUnarchived ArchiveState = "unarchived"
	ArchiveStateArchived   ArchiveState = "archived"
)

type (
	// Feed is a subscribed syndication source.
	//
	// URLs keeps every address the feed has ever been reached by, in
	// insertion order, with the most recently resolved URL last. The list
	// is never empty once the feed is stored.
	Feed struct {
		ID          int64   `db:"id"`
		URLs        URLList `db:"-"`
		Title       *string `db:"title"`
		Description *string `db:"description"`
		Link        *string `db:"link"`
		FaviconURL  *string `db:"favicon_url"`
		Active      bool    `db:"active"`

		DateCreated time.Time  `db:"date_created"`
		DateUpdated time.Time  `db:"date_updated"`
		DateFetched *time.Time `db:"date_fetched"`
		// Verbatim Last-Modified header from the most recent fetch.
		DateLastModified *string `db:"date_last_modified"`
	}

	// Entry is one article belonging to a feed.
	//
	// ContentHash and FeedID are immutable after creation; the engine only
	// ever inserts entries. Read and archive state belong to the user and
	// are changed through the Store, never by polling.
	Entry struct {
		ID            int64        `db:"id"`
		FeedID        int64        `db:"feed_id"`
		URLs          URLList      `db:"urls"`
		ContentHash   string       `db:"content_hash"`
		ReadState     ReadState    `db:"read_state"`
		ArchiveState  ArchiveState `db:"archive_state"`
		Title         *string      `db:"title"`
		Author        *string      `db:"author"`
		Content       *string      `db:"content"`
		FeedTitle     *string      `db:"feed_title"`
		FeedLink      *string      `db:"feed_link"`
		DatePublished *time.Time   `db:"date_published"`
		DateCreated   time.Time    `db:"date_created"`
	}

	// UpdateFeedArgs carries the fields a reconciled poll may write back
	// to a stored feed. Identity, active flag and creation date are not
	// representable here on purpose.
	UpdateFeedArgs struct {
		Title        *string
		Description  *string
		Link         *string
		URLs         []string
		DateFetched  time.Time
		LastModified *string
	}

	// UnreadCount pairs a feed with its number of unread entries.
	UnreadCount struct {
		FeedID int64 `db:"feed_id"`
		Count  int   `db:"count"`
	}

	// Store is the transactional persistence boundary for feeds and
	// entries. Implementations must enforce uniqueness of
	// (feed_id, content_hash) and surface violations as [ErrConflict].
	Store interface {
		Feed(ctx context.Context, id int64) (Feed, error)
		FeedByURL(ctx context.Context, url string) (Feed, error)
		AllFeeds(ctx context.Context) ([]Feed, error)
		ActiveFeeds(ctx context.Context) ([]Feed, error)
		CreateFeed(ctx context.Context, url string, title, description *string) (Feed, error)
		UpdateFeed(ctx context.Context, id int64, args UpdateFeedArgs) error
		SetFeedFavicon(ctx context.Context, id int64, faviconURL string) error
		DeactivateFeed(ctx context.Context, id int64) error

		Entry(ctx context.Context, id int64) (Entry, error)
		EntriesByFeed(ctx context.Context, feedID int64, limit, offset uint64) ([]Entry, error)
		EntryExists(ctx context.Context, feedID int64, contentHash string) (bool, error)
		// PutEntries inserts the given entries inside a single
		// transaction and reports how many were inserted versus skipped
		// as duplicates. Inserted entries come back with their ids.
		PutEntries(ctx context.Context, entries []Entry) (inserted []Entry, skipped int, err error)
		MarkEntryRead(ctx context.Context, id int64, state ReadState) error
		MarkEntryArchived(ctx context.Context, id int64, state ArchiveState) error
		UnreadCounts(ctx context.Context) ([]UnreadCount, error)
	}
)

// URLList is an ordered set of distinct normalized URLs, persisted as a
// JSON array.
type URLList []string

// Append adds url to the end of the list unless it is already present or
// empty. It reports whether the list changed.
func (l *URLList) Append(url string) bool {
	if url == "" {
		return false
	}
	for _, existing := range *l {
		if existing == url {
			return false
		}
	}
	*l = append(*l, url)
	return true
}

// Primary returns the most recently resolved URL.
func (l URLList) Primary() string {
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1]
}

func (l URLList) Value() (driver.Value, error) {
	if l == nil {
		l = URLList{}
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("error marshaling url list: %w", err)
	}
	return string(b), nil
}

func (l *URLList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	default:
		return fmt.Errorf("cannot scan %T into URLList", src)
	}
}
