package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"feedmill/internal/feedmill"
)

func (r *Repo) Entry(ctx context.Context, id int64) (feedmill.Entry, error) {
	const q = `SELECT * FROM entries WHERE id = ?;`

	var entry feedmill.Entry
	err := r.db.GetContext(ctx, &entry, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return feedmill.Entry{}, feedmill.ErrNotFound
	}
	if err != nil {
		return feedmill.Entry{}, fmt.Errorf("error fetching entry: %s", err)
	}

	return entry, nil
}

func (r *Repo) EntriesByFeed(ctx context.Context, feedID int64, limit, offset uint64) ([]feedmill.Entry, error) {
	if limit == 0 {
		limit = 50
	}

	query, args, err := sq.Select("*").
		From("entries").
		Where(sq.Eq{"feed_id": feedID}).
		OrderBy("date_published DESC", "id DESC").
		Limit(limit).
		Offset(offset).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var entries []feedmill.Entry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching entries: %s", err)
	}

	return entries, nil
}

// EntryExists is the dedup membership check, scoped to the owning feed:
// the same fingerprint under another feed is a legitimate syndicated
// copy, not a duplicate.
func (r *Repo) EntryExists(ctx context.Context, feedID int64, contentHash string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM entries WHERE feed_id = ? AND content_hash = ?);`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, feedID, contentHash); err != nil {
		return false, fmt.Errorf("error checking entry existence: %s", err)
	}

	return exists, nil
}

// PutEntries inserts entries inside one transaction. A unique-constraint
// hit means another poll won the race for that fingerprint and is counted
// as a skip; any other per-entry failure drops just that entry. The
// returned entries carry their assigned ids.
func (r *Repo) PutEntries(ctx context.Context, entries []feedmill.Entry) ([]feedmill.Entry, int, error) {
	if len(entries) == 0 {
		return nil, 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("error starting transaction: %s", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO entries
		(feed_id, urls, content_hash, read_state, archive_state, title, author, content, feed_title, feed_link, date_published, date_created)
	VALUES
		(:feed_id, :urls, :content_hash, :read_state, :archive_state, :title, :author, :content, :feed_title, :feed_link, :date_published, :date_created);`

	var (
		inserted []feedmill.Entry
		skipped  int
	)
	for _, entry := range entries {
		res, err := tx.NamedExecContext(ctx, q, entry)
		if isUniqueViolation(err) {
			skipped++
			continue
		}
		if err != nil {
			slog.WarnContext(ctx, "error inserting entry, dropping it", "feed_id", entry.FeedID, "error", err)
			skipped++
			continue
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, 0, fmt.Errorf("error reading new entry id: %s", err)
		}
		entry.ID = id
		inserted = append(inserted, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("error committing entries: %s", err)
	}

	return inserted, skipped, nil
}

// MarkEntryRead flips the user-facing read flag. The polling engine never
// calls this.
func (r *Repo) MarkEntryRead(ctx context.Context, id int64, state feedmill.ReadState) error {
	const q = `UPDATE entries SET read_state = ? WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, state, id)
	if err != nil {
		return fmt.Errorf("error updating read state: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return feedmill.ErrNotFound
	}

	return nil
}

// MarkEntryArchived flips the user-facing archive flag.
func (r *Repo) MarkEntryArchived(ctx context.Context, id int64, state feedmill.ArchiveState) error {
	const q = `UPDATE entries SET archive_state = ? WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, state, id)
	if err != nil {
		return fmt.Errorf("error updating archive state: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return feedmill.ErrNotFound
	}

	return nil
}

// UnreadCounts recomputes per-feed unread totals from storage. This is
// the derived state downstream consumers read instead of the engine
// pushing aggregates.
func (r *Repo) UnreadCounts(ctx context.Context) ([]feedmill.UnreadCount, error) {
	const q = `SELECT feed_id, COUNT(*) AS count FROM entries WHERE read_state = 'unread' GROUP BY feed_id;`

	var counts []feedmill.UnreadCount
	if err := r.db.SelectContext(ctx, &counts, q); err != nil {
		return nil, fmt.Errorf("error counting unread entries: %s", err)
	}

	return counts, nil
}
