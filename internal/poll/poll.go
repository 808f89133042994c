// Package poll is the feed polling and ingestion engine.
//
// An [Engine] drives, per feed: fetch, parse, reconcile, persist feed,
// then fingerprint/dedup/sanitize/persist each entry. Feeds run
// concurrently with bounded parallelism and every failure is isolated to
// the feed or entry it came from; a batch always runs to completion and
// returns a summary.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"feedmill/internal/bus"
	"feedmill/internal/feedmill"
	"feedmill/internal/fetch"
	"feedmill/internal/parse"
	"feedmill/logger"
)

type (
	// Fetcher grabs a raw feed document.
	Fetcher interface {
		Feed(ctx context.Context, url string, timeout time.Duration) (fetch.Document, error)
	}

	// Parser converts a raw document into the canonical feed form.
	Parser interface {
		Parse(raw []byte, skipEntries bool) (parse.Feed, error)
	}

	// Sanitizer cleans entry HTML before persistence.
	Sanitizer interface {
		Content(baseURL, rawHTML string) string
		Strip(s string) string
	}

	// Publisher is the write side of the event bus.
	Publisher interface {
		Publish(ev bus.Event)
	}

	// Config carries the engine's collaborators and tuning. Store,
	// Fetcher, Parser, Sanitizer and Bus are injected at construction;
	// there is exactly one engine type no matter how it is scheduled.
	Config struct {
		Store     feedmill.Store
		Fetcher   Fetcher
		Parser    Parser
		Sanitizer Sanitizer
		Bus       Publisher

		// FeedConcurrency bounds how many feeds poll at once.
		FeedConcurrency int
		// EntryConcurrency bounds the fingerprint/sanitize fan-out
		// within one feed.
		EntryConcurrency int
		// RecencyWindow skips feeds fetched within this window unless
		// the caller disables the check.
		RecencyWindow time.Duration
		// Fingerprint is the dedup field policy. Zero value means
		// [DefaultPolicy].
		Fingerprint Policy
		// Online reports whether the network is reachable. Nil means
		// always online.
		Online func() bool
	}

	// Options tunes a single invocation.
	Options struct {
		IgnoreRecencyCheck  bool
		IgnoreModifiedCheck bool
		FetchTimeout        time.Duration
		NotifyOnCompletion  bool
	}
)

const (
	defaultFeedConcurrency  = 8
	defaultEntryConcurrency = 4
	defaultRecencyWindow    = 5 * time.Minute
	defaultFetchTimeout     = 10 * time.Second

	// Hot cache of recently seen (feed, hash) pairs, in front of the
	// store's dedup lookup. The store's unique index remains the
	// authority; this only saves queries on re-polls.
	seenCacheSize = 8192
)

type Engine struct {
	cfg  Config
	seen *lru.Cache[string, struct{}]
}

// New validates cfg and builds an engine. Missing collaborators are
// programmer errors and fail here, loudly, rather than being absorbed
// into poll results.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("poll: Store is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("poll: Fetcher is required")
	case cfg.Parser == nil:
		return nil, errors.New("poll: Parser is required")
	case cfg.Sanitizer == nil:
		return nil, errors.New("poll: Sanitizer is required")
	case cfg.Bus == nil:
		return nil, errors.New("poll: Bus is required")
	}

	if cfg.FeedConcurrency <= 0 {
		cfg.FeedConcurrency = defaultFeedConcurrency
	}
	if cfg.EntryConcurrency <= 0 {
		cfg.EntryConcurrency = defaultEntryConcurrency
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = defaultRecencyWindow
	}
	if cfg.Fingerprint == (Policy{}) {
		cfg.Fingerprint = DefaultPolicy()
	}

	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("poll: building seen cache: %w", err)
	}

	return &Engine{cfg: cfg, seen: seen}, nil
}

// Status is the terminal state of one feed's poll.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// SkipReason says why a feed was short-circuited. These are deliberate
// no-ops, not failures.
type SkipReason string

const (
	SkipInactive   SkipReason = "inactive"
	SkipRecent     SkipReason = "recently_fetched"
	SkipUnmodified SkipReason = "unmodified"
	SkipOffline    SkipReason = "offline"
	SkipAborted    SkipReason = "aborted"
)

type (
	// FeedResult summarizes one feed's pass through the state machine.
	FeedResult struct {
		FeedID         int64
		Status         Status
		Skip           SkipReason
		Err            error
		EntriesAdded   int
		EntriesSkipped int
	}

	// Summary aggregates a whole batch.
	Summary struct {
		RunID          string
		Started        time.Time
		Finished       time.Time
		FeedsPolled    int
		FeedsSkipped   int
		FeedsFailed    int
		EntriesAdded   int
		EntriesSkipped int
		Results        []FeedResult
	}
)

// PollFeeds runs the per-feed state machine for every stored feed,
// concurrently, and waits for all of them to settle. No feed's failure
// cancels the batch; the returned error covers only listing the feeds or
// a malformed feed record.
//
// Canceling ctx is the abort signal: feeds not yet started are recorded
// as skipped while in-flight feeds run to completion.
func (e *Engine) PollFeeds(ctx context.Context, opts Options) (Summary, error) {
	started := time.Now()

	feeds, err := e.cfg.Store.AllFeeds(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing feeds to poll: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make([]FeedResult, 0, len(feeds))
	)

	// In-flight work survives the abort signal, so feed tasks detach
	// from ctx's cancellation and only the start gate observes it.
	workCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.FeedConcurrency)
	for _, feed := range feeds {
		if ctx.Err() != nil {
			mu.Lock()
			results = append(results, FeedResult{FeedID: feed.ID, Status: StatusSkipped, Skip: SkipAborted})
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			res, err := e.PollFeed(workCtx, feed, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Only programmer errors (malformed feed records) land here.
		return Summary{}, err
	}

	summary := summarize(results, started)
	slog.Info("poll batch complete",
		"run_id", summary.RunID,
		"feeds_polled", summary.FeedsPolled,
		"feeds_skipped", summary.FeedsSkipped,
		"feeds_failed", summary.FeedsFailed,
		"entries_added", summary.EntriesAdded,
		"entries_skipped", summary.EntriesSkipped,
	)

	if opts.NotifyOnCompletion {
		e.cfg.Bus.Publish(bus.Event{Kind: bus.KindPollCompleted, RunID: summary.RunID})
	}

	return summary, nil
}

// PollFeed runs the state machine for a single feed:
//
//	Idle → Fetching → Parsing → Reconciling → PersistingFeed →
//	PersistingEntries → Done
//
// with Failed reachable from any non-terminal state. The returned error
// is non-nil only for a malformed feed argument; everything feed-scoped
// lands in the result.
func (e *Engine) PollFeed(ctx context.Context, feed feedmill.Feed, opts Options) (FeedResult, error) {
	if feed.ID <= 0 || len(feed.URLs) == 0 {
		return FeedResult{}, fmt.Errorf("poll: malformed feed record (id=%d, %d urls)", feed.ID, len(feed.URLs))
	}

	ctx = logger.Ctx(ctx, slog.Int64("feed_id", feed.ID))
	res := FeedResult{FeedID: feed.ID}

	// Deliberate short-circuits, not failures.
	switch {
	case !feed.Active:
		res.Status, res.Skip = StatusSkipped, SkipInactive
		return res, nil
	case e.cfg.Online != nil && !e.cfg.Online():
		res.Status, res.Skip = StatusSkipped, SkipOffline
		return res, nil
	case !opts.IgnoreRecencyCheck && feed.DateFetched != nil && time.Since(*feed.DateFetched) < e.cfg.RecencyWindow:
		res.Status, res.Skip = StatusSkipped, SkipRecent
		return res, nil
	}

	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	// Fetching.
	doc, err := e.cfg.Fetcher.Feed(ctx, feed.URLs.Primary(), timeout)
	if err != nil {
		slog.WarnContext(ctx, "feed fetch failed", "error", err)
		res.Status, res.Err = StatusFailed, err
		return res, nil
	}

	// Unmodified guard: the server says nothing changed, so skip the
	// reparse and only advance dateFetched.
	if !opts.IgnoreModifiedCheck && !opts.IgnoreRecencyCheck && unmodified(feed, doc) {
		now := time.Now()
		if err := e.cfg.Store.UpdateFeed(ctx, feed.ID, feedmill.UpdateFeedArgs{
			URLs:         feed.URLs,
			DateFetched:  now,
			LastModified: feed.DateLastModified,
		}); err != nil {
			res.Status, res.Err = StatusFailed, err
			return res, nil
		}
		res.Status, res.Skip = StatusSkipped, SkipUnmodified
		return res, nil
	}

	// Parsing.
	parsed, err := e.cfg.Parser.Parse(doc.Body, false)
	if err != nil {
		slog.WarnContext(ctx, "feed parse failed", "error", err)
		res.Status, res.Err = StatusFailed, err
		return res, nil
	}

	// Reconciling is pure and cannot fail.
	merged := merge(feed, parsed, doc, time.Now())

	// PersistingFeed: entries need the confirmed feed record first.
	if err := e.cfg.Store.UpdateFeed(ctx, feed.ID, updateArgs(merged)); err != nil {
		slog.ErrorContext(ctx, "persisting feed failed", "error", err)
		res.Status, res.Err = StatusFailed, err
		return res, nil
	}
	e.cfg.Bus.Publish(bus.Event{Kind: bus.KindFeedUpdated, FeedID: feed.ID})

	// PersistingEntries.
	added, skipped, err := e.ingestEntries(ctx, merged, parsed)
	res.EntriesAdded, res.EntriesSkipped = added, skipped
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res, nil
	}

	res.Status = StatusDone
	return res, nil
}

// ingestEntries fingerprints, dedups and sanitizes the raw entries
// concurrently, then persists the survivors in one transaction. Skips are
// expected steady state on a re-poll and are counted quietly.
func (e *Engine) ingestEntries(ctx context.Context, feed feedmill.Feed, parsed parse.Feed) (added, skipped int, err error) {
	var (
		mu         sync.Mutex
		candidates []feedmill.Entry
		inBatch    = make(map[string]bool, len(parsed.Entries))
		skips      int
	)

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.EntryConcurrency)
	for _, raw := range parsed.Entries {
		g.Go(func() error {
			hash, ok := e.cfg.Fingerprint.Fingerprint(raw)
			if !ok {
				// Unprocessable: nothing to hash, nothing to store.
				mu.Lock()
				skips++
				mu.Unlock()
				return nil
			}

			if e.seenRecently(feed.ID, hash) {
				mu.Lock()
				skips++
				mu.Unlock()
				return nil
			}

			exists, err := e.cfg.Store.EntryExists(ctx, feed.ID, hash)
			if err != nil {
				// Entry-scoped storage failure aborts only this entry.
				slog.WarnContext(ctx, "entry dedup lookup failed", "error", err)
				mu.Lock()
				skips++
				mu.Unlock()
				return nil
			}
			if exists {
				e.markSeen(feed.ID, hash)
				mu.Lock()
				skips++
				mu.Unlock()
				return nil
			}

			entry := e.buildEntry(feed, parsed, raw, hash)

			mu.Lock()
			if inBatch[hash] {
				// The same document carried a duplicate item.
				skips++
			} else {
				inBatch[hash] = true
				candidates = append(candidates, entry)
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers only record outcomes, they never return errors.
	_ = g.Wait()

	if len(candidates) == 0 {
		return 0, skips, nil
	}

	inserted, dupes, err := e.cfg.Store.PutEntries(ctx, candidates)
	if err != nil {
		return 0, skips, fmt.Errorf("persisting entries: %w", err)
	}

	for _, entry := range inserted {
		e.markSeen(entry.FeedID, entry.ContentHash)
		e.cfg.Bus.Publish(bus.Event{Kind: bus.KindEntryAdded, FeedID: entry.FeedID, EntryID: entry.ID})
	}

	return len(inserted), skips + dupes, nil
}

// buildEntry cascades feed identity onto a raw entry and sanitizes it for
// storage.
func (e *Engine) buildEntry(feed feedmill.Feed, parsed parse.Feed, raw parse.Entry, hash string) feedmill.Entry {
	s := e.cfg.Sanitizer

	var urls feedmill.URLList
	urls.Append(raw.Link)

	published := raw.Published
	if published == nil {
		// Fall back to the owning feed's publish date.
		published = parsed.Published
	}

	return feedmill.Entry{
		FeedID:        feed.ID,
		URLs:          urls,
		ContentHash:   hash,
		ReadState:     feedmill.ReadStateUnread,
		ArchiveState:  feedmill.ArchiveStateUnarchived,
		Title:         optional(s.Strip(raw.Title)),
		Author:        optional(s.Strip(raw.Author)),
		Content:       optional(s.Content(raw.Link, raw.Content)),
		FeedTitle:     feed.Title,
		FeedLink:      feed.Link,
		DatePublished: published,
		DateCreated:   time.Now(),
	}
}

func (e *Engine) seenRecently(feedID int64, hash string) bool {
	return e.seen.Contains(seenKey(feedID, hash))
}

func (e *Engine) markSeen(feedID int64, hash string) {
	e.seen.Add(seenKey(feedID, hash), struct{}{})
}

func seenKey(feedID int64, hash string) string {
	return fmt.Sprintf("%d:%s", feedID, hash)
}

// unmodified reports whether the server's caching header matches what the
// previous poll stored.
func unmodified(feed feedmill.Feed, doc fetch.Document) bool {
	return doc.LastModified != "" &&
		feed.DateLastModified != nil &&
		doc.LastModified == *feed.DateLastModified
}

func summarize(results []FeedResult, started time.Time) Summary {
	summary := Summary{
		RunID:    uuid.NewString(),
		Started:  started,
		Finished: time.Now(),
		Results:  results,
	}
	for _, res := range results {
		switch res.Status {
		case StatusDone:
			summary.FeedsPolled++
		case StatusSkipped:
			summary.FeedsSkipped++
		case StatusFailed:
			summary.FeedsFailed++
		}
		summary.EntriesAdded += res.EntriesAdded
		summary.EntriesSkipped += res.EntriesSkipped
	}
	return summary
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
