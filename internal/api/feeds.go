package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apierrs "feedmill/internal/errors"
	"feedmill/internal/feedmill"
	"feedmill/internal/poll"
)

type FeedResp struct {
	ID               int64      `json:"id"`
	URLs             []string   `json:"urls"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Link             string     `json:"link"`
	FaviconURL       string     `json:"favicon_url"`
	Active           bool       `json:"active"`
	DateCreated      time.Time  `json:"date_created"`
	DateFetched      *time.Time `json:"date_fetched"`
	DateLastModified string     `json:"date_last_modified"`
}

func apiFeed(f feedmill.Feed) FeedResp {
	return FeedResp{
		ID:               f.ID,
		URLs:             f.URLs,
		Title:            deref(f.Title),
		Description:      deref(f.Description),
		Link:             deref(f.Link),
		FaviconURL:       deref(f.FaviconURL),
		Active:           f.Active,
		DateCreated:      f.DateCreated,
		DateFetched:      f.DateFetched,
		DateLastModified: deref(f.DateLastModified),
	}
}

type FeedListResp struct {
	Feeds []FeedResp `json:"feeds"`
}

func (s *Server) getFeeds(w http.ResponseWriter, r *http.Request) error {
	feeds, err := s.store.AllFeeds(r.Context())
	if err != nil {
		return err
	}

	resp := FeedListResp{Feeds: make([]FeedResp, 0, len(feeds))}
	for _, feed := range feeds {
		resp.Feeds = append(resp.Feeds, apiFeed(feed))
	}

	return writeJSON(w, http.StatusOK, resp)
}

type PostFeedReq struct {
	FeedURL string `json:"feed_url"`
}

// postFeeds subscribes a new feed: the URL is probed for identity first
// so a dead link or non-feed page is rejected before anything is stored.
func (s *Server) postFeeds(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var body PostFeedReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return apierrs.E(err, http.StatusBadRequest)
	}
	if body.FeedURL == "" {
		return apierrs.E("feed_url is required", http.StatusBadRequest)
	}

	probed, err := s.engine.Probe(ctx, body.FeedURL, 0)
	if err != nil {
		return apierrs.E(err, http.StatusBadGateway)
	}

	feed, err := s.store.CreateFeed(ctx, body.FeedURL, optional(probed.Title), optional(probed.Description))
	if errors.Is(err, feedmill.ErrConflict) {
		return apierrs.E(err, http.StatusConflict)
	}
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusCreated, apiFeed(feed))
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "feedID")
	if err != nil {
		return err
	}

	feed, err := s.store.Feed(r.Context(), id)
	if errors.Is(err, feedmill.ErrNotFound) {
		return apierrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, apiFeed(feed))
}

// deleteFeed deactivates rather than deletes: the record and its entries
// stay for history, polling just skips the feed from now on.
func (s *Server) deleteFeed(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "feedID")
	if err != nil {
		return err
	}

	err = s.store.DeactivateFeed(r.Context(), id)
	if errors.Is(err, feedmill.ErrNotFound) {
		return apierrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type UnreadCountsResp struct {
	Counts []UnreadCountResp `json:"counts"`
	Total  int               `json:"total"`
}

type UnreadCountResp struct {
	FeedID int64 `json:"feed_id"`
	Count  int   `json:"count"`
}

func (s *Server) getUnreadCounts(w http.ResponseWriter, r *http.Request) error {
	counts, err := s.store.UnreadCounts(r.Context())
	if err != nil {
		return err
	}

	resp := UnreadCountsResp{Counts: make([]UnreadCountResp, 0, len(counts))}
	for _, c := range counts {
		resp.Counts = append(resp.Counts, UnreadCountResp{FeedID: c.FeedID, Count: c.Count})
		resp.Total += c.Count
	}

	return writeJSON(w, http.StatusOK, resp)
}

type PostPollReq struct {
	IgnoreRecencyCheck  bool `json:"ignore_recency_check"`
	IgnoreModifiedCheck bool `json:"ignore_modified_check"`
	FetchTimeoutMs      int  `json:"fetch_timeout_ms"`
	NotifyOnCompletion  bool `json:"notify_on_completion"`
}

type PollSummaryResp struct {
	RunID          string `json:"run_id"`
	FeedsPolled    int    `json:"feeds_polled"`
	FeedsSkipped   int    `json:"feeds_skipped"`
	FeedsFailed    int    `json:"feeds_failed"`
	EntriesAdded   int    `json:"entries_added"`
	EntriesSkipped int    `json:"entries_skipped"`
}

// postPolls runs a batch poll right now and reports the summary.
func (s *Server) postPolls(w http.ResponseWriter, r *http.Request) error {
	var body PostPollReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apierrs.E(err, http.StatusBadRequest)
		}
	}

	summary, err := s.engine.PollFeeds(r.Context(), poll.Options{
		IgnoreRecencyCheck:  body.IgnoreRecencyCheck,
		IgnoreModifiedCheck: body.IgnoreModifiedCheck,
		FetchTimeout:        time.Duration(body.FetchTimeoutMs) * time.Millisecond,
		NotifyOnCompletion:  body.NotifyOnCompletion,
	})
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, PollSummaryResp{
		RunID:          summary.RunID,
		FeedsPolled:    summary.FeedsPolled,
		FeedsSkipped:   summary.FeedsSkipped,
		FeedsFailed:    summary.FeedsFailed,
		EntriesAdded:   summary.EntriesAdded,
		EntriesSkipped: summary.EntriesSkipped,
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apierrs.E("invalid id in path", http.StatusBadRequest)
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
