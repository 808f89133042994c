// Package favicon resolves site icons for feeds as a pass of its own.
//
// Icon lookup rides on a slow, unrelated network dependency, so it is
// kept off the polling critical path entirely: the engine never calls
// this package, a scheduler does.
package favicon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sethvargo/go-retry"

	"feedmill/internal/feedmill"
	"feedmill/internal/fetch"
	"feedmill/logger"
)

// PageFetcher grabs a linked HTML page.
type PageFetcher interface {
	Page(ctx context.Context, url string, timeout time.Duration) (fetch.Document, error)
}

type Refresher struct {
	store   feedmill.Store
	fetcher PageFetcher
	timeout time.Duration
}

func New(store feedmill.Store, fetcher PageFetcher) *Refresher {
	return &Refresher{
		store:   store,
		fetcher: fetcher,
		timeout: 10 * time.Second,
	}
}

// RefreshAll walks the active feeds that have a site link and records the
// icon each site declares. Failures are per-feed and logged, never fatal
// to the pass.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	feeds, err := r.store.ActiveFeeds(ctx)
	if err != nil {
		return fmt.Errorf("listing feeds for favicon refresh: %w", err)
	}

	for _, feed := range feeds {
		if feed.Link == nil || *feed.Link == "" {
			continue
		}
		fCtx := logger.Ctx(ctx, slog.Int64("feed_id", feed.ID))
		if err := r.refreshFeed(fCtx, feed); err != nil {
			slog.WarnContext(fCtx, "favicon refresh failed", "error", err)
		}
	}

	return nil
}

func (r *Refresher) refreshFeed(ctx context.Context, feed feedmill.Feed) error {
	var doc fetch.Document
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := r.fetcher.Page(ctx, *feed.Link, r.timeout)
		if transient(err) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return err
	}

	iconURL, err := discoverIcon(doc)
	if err != nil {
		return err
	}

	return r.store.SetFeedFavicon(ctx, feed.ID, iconURL)
}

// discoverIcon finds the page's declared icon, falling back to the
// conventional /favicon.ico location.
func discoverIcon(doc fetch.Document) (string, error) {
	base, err := url.Parse(doc.FinalURL)
	if err != nil {
		return "", fmt.Errorf("error parsing page url: %w", err)
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return "", fmt.Errorf("error parsing page html: %w", err)
	}

	href, ok := page.Find(`link[rel~="icon"]`).First().Attr("href")
	if !ok || href == "" {
		return base.ResolveReference(&url.URL{Path: "/favicon.ico"}).String(), nil
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("error parsing icon href: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// transient reports whether a fetch failure is worth retrying. Status and
// content-type failures are the server's answer, not a blip.
func transient(err error) bool {
	fetchErr := &fetch.Error{}
	if !errors.As(err, &fetchErr) {
		return false
	}
	return fetchErr.Kind == fetch.KindTimeout || fetchErr.Kind == fetch.KindUnknown
}
