package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"feedmill/internal/feedmill"
)

func (r *Repo) Feed(ctx context.Context, id int64) (feedmill.Feed, error) {
	const q = `SELECT * FROM feeds WHERE id = ?;`

	var feed feedmill.Feed
	err := r.db.GetContext(ctx, &feed, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return feedmill.Feed{}, feedmill.ErrNotFound
	}
	if err != nil {
		return feedmill.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	if feed.URLs, err = r.feedURLs(ctx, feed.ID); err != nil {
		return feedmill.Feed{}, err
	}

	return feed, nil
}

// FeedByURL matches against every URL a feed has ever been reached by,
// not just the current one.
func (r *Repo) FeedByURL(ctx context.Context, url string) (feedmill.Feed, error) {
	const q = `SELECT feed_id FROM feed_urls WHERE url = ?;`

	var id int64
	err := r.db.GetContext(ctx, &id, q, url)
	if errors.Is(err, sql.ErrNoRows) {
		return feedmill.Feed{}, feedmill.ErrNotFound
	}
	if err != nil {
		return feedmill.Feed{}, fmt.Errorf("error looking up feed by url: %s", err)
	}

	return r.Feed(ctx, id)
}

// AllFeeds retrieves _all_ feeds from the database.
func (r *Repo) AllFeeds(ctx context.Context) ([]feedmill.Feed, error) {
	return r.selectFeeds(ctx, `SELECT * FROM feeds ORDER BY id;`)
}

// ActiveFeeds retrieves only feeds that have not been deactivated.
func (r *Repo) ActiveFeeds(ctx context.Context) ([]feedmill.Feed, error) {
	return r.selectFeeds(ctx, `SELECT * FROM feeds WHERE active = 1 ORDER BY id;`)
}

func (r *Repo) selectFeeds(ctx context.Context, q string) ([]feedmill.Feed, error) {
	var feeds []feedmill.Feed
	if err := r.db.SelectContext(ctx, &feeds, q); err != nil {
		return nil, fmt.Errorf("error selecting feeds: %s", err)
	}

	// One query per feed. Totally inefficient, yet sufficient.
	for i := range feeds {
		urls, err := r.feedURLs(ctx, feeds[i].ID)
		if err != nil {
			return nil, err
		}
		feeds[i].URLs = urls
	}

	return feeds, nil
}

// CreateFeed inserts a new feed reachable at url. The id is assigned
// here, active defaults to true, and the url becomes the first element of
// the feed's URL history.
func (r *Repo) CreateFeed(ctx context.Context, url string, title, description *string) (feedmill.Feed, error) {
	if url == "" {
		return feedmill.Feed{}, errors.New("feed url is required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return feedmill.Feed{}, fmt.Errorf("error starting transaction: %s", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO feeds (title, description, active, date_created, date_updated) VALUES (?, ?, 1, ?, ?);`,
		title, description, now, now,
	)
	if err != nil {
		return feedmill.Feed{}, fmt.Errorf("error inserting feed: %s", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return feedmill.Feed{}, fmt.Errorf("error reading new feed id: %s", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feed_urls (feed_id, url, position) VALUES (?, ?, 0);`,
		id, url,
	)
	if isUniqueViolation(err) {
		return feedmill.Feed{}, fmt.Errorf("feed already exists: %w", feedmill.ErrConflict)
	}
	if err != nil {
		return feedmill.Feed{}, fmt.Errorf("error inserting feed url: %s", err)
	}

	if err := tx.Commit(); err != nil {
		return feedmill.Feed{}, fmt.Errorf("error committing feed insert: %s", err)
	}

	return r.Feed(ctx, id)
}

// UpdateFeed applies a reconciled poll's writable fields. Nil scalars are
// left untouched; id, active and date_created are not writable here at
// all.
func (r *Repo) UpdateFeed(ctx context.Context, id int64, args feedmill.UpdateFeedArgs) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}
	defer tx.Rollback()

	q := sq.Update("feeds").
		Set("date_updated", time.Now()).
		Set("date_fetched", args.DateFetched)
	if args.Title != nil {
		q = q.Set("title", *args.Title)
	}
	if args.Description != nil {
		q = q.Set("description", *args.Description)
	}
	if args.Link != nil {
		q = q.Set("link", *args.Link)
	}
	if args.LastModified != nil {
		q = q.Set("date_last_modified", *args.LastModified)
	}
	q = q.Where(sq.Eq{"id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}
	res, err := tx.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error executing feed update: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return feedmill.ErrNotFound
	}

	// Append any newly discovered URLs, preserving insertion order.
	for _, url := range args.URLs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO feed_urls (feed_id, url, position)
			VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM feed_urls WHERE feed_id = ?))
			ON CONFLICT (url) DO NOTHING;`,
			id, url, id,
		)
		if err != nil {
			return fmt.Errorf("error recording feed url: %s", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing feed update: %s", err)
	}

	return nil
}

// SetFeedFavicon records the icon discovered by the favicon refresh pass.
func (r *Repo) SetFeedFavicon(ctx context.Context, id int64, faviconURL string) error {
	const q = `UPDATE feeds SET favicon_url = ?, date_updated = ? WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, faviconURL, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error setting feed favicon: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return feedmill.ErrNotFound
	}

	return nil
}

// DeactivateFeed marks a feed so polling skips it. The record and its
// entries stay put.
func (r *Repo) DeactivateFeed(ctx context.Context, id int64) error {
	const q = `UPDATE feeds SET active = 0, date_updated = ? WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error deactivating feed: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return feedmill.ErrNotFound
	}

	return nil
}

func (r *Repo) feedURLs(ctx context.Context, feedID int64) (feedmill.URLList, error) {
	const q = `SELECT url FROM feed_urls WHERE feed_id = ? ORDER BY position;`

	var urls []string
	if err := r.db.SelectContext(ctx, &urls, q, feedID); err != nil {
		return nil, fmt.Errorf("error fetching feed urls: %s", err)
	}

	return feedmill.URLList(urls), nil
}
