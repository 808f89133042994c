package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apierrs "feedmill/internal/errors"
	"feedmill/internal/feedmill"
)

type EntryResp struct {
	ID            int64      `json:"id"`
	FeedID        int64      `json:"feed_id"`
	URLs          []string   `json:"urls"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	Content       string     `json:"content"`
	FeedTitle     string     `json:"feed_title"`
	ReadState     string     `json:"read_state"`
	ArchiveState  string     `json:"archive_state"`
	DatePublished *time.Time `json:"date_published"`
	DateCreated   time.Time  `json:"date_created"`
}

func apiEntry(e feedmill.Entry) EntryResp {
	return EntryResp{
		ID:            e.ID,
		FeedID:        e.FeedID,
		URLs:          e.URLs,
		Title:         deref(e.Title),
		Author:        deref(e.Author),
		Content:       deref(e.Content),
		FeedTitle:     deref(e.FeedTitle),
		ReadState:     string(e.ReadState),
		ArchiveState:  string(e.ArchiveState),
		DatePublished: e.DatePublished,
		DateCreated:   e.DateCreated,
	}
}

type EntryListResp struct {
	Entries []EntryResp `json:"entries"`
}

func (s *Server) getFeedEntries(w http.ResponseWriter, r *http.Request) error {
	feedID, err := pathID(r, "feedID")
	if err != nil {
		return err
	}
	limit, offset := parsePaginationParams(r, 50, 200)

	entries, err := s.store.EntriesByFeed(r.Context(), feedID, uint64(limit), uint64(offset))
	if err != nil {
		return err
	}

	resp := EntryListResp{Entries: make([]EntryResp, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, apiEntry(entry))
	}

	return writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "entryID")
	if err != nil {
		return err
	}

	// Cache results for less processing on repeat views.
	if resp, ok := s.entryCache.Get(id); ok {
		return writeJSON(w, http.StatusOK, resp)
	}

	entry, err := s.store.Entry(r.Context(), id)
	if errors.Is(err, feedmill.ErrNotFound) {
		return apierrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	resp := apiEntry(entry)
	s.entryCache.Add(id, resp)

	return writeJSON(w, http.StatusOK, resp)
}

type PutReadReq struct {
	State feedmill.ReadState `json:"state"`
}

// putEntryRead flips the user-owned read flag; this surface, not the
// polling engine, owns entry lifecycle state.
func (s *Server) putEntryRead(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "entryID")
	if err != nil {
		return err
	}

	var body PutReadReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return apierrs.E(err, http.StatusBadRequest)
	}
	if body.State != feedmill.ReadStateRead && body.State != feedmill.ReadStateUnread {
		return apierrs.E("state must be read or unread", http.StatusBadRequest)
	}

	err = s.store.MarkEntryRead(r.Context(), id, body.State)
	if errors.Is(err, feedmill.ErrNotFound) {
		return apierrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	// The cached copy holds the old state.
	s.entryCache.Remove(id)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type PutArchiveReq struct {
	State feedmill.ArchiveState `json:"state"`
}

func (s *Server) putEntryArchive(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "entryID")
	if err != nil {
		return err
	}

	var body PutArchiveReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return apierrs.E(err, http.StatusBadRequest)
	}
	if body.State != feedmill.ArchiveStateArchived && body.State != feedmill.ArchiveStateUnarchived {
		return apierrs.E("state must be archived or unarchived", http.StatusBadRequest)
	}

	err = s.store.MarkEntryArchived(r.Context(), id, body.State)
	if errors.Is(err, feedmill.ErrNotFound) {
		return apierrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	s.entryCache.Remove(id)

	w.WriteHeader(http.StatusNoContent)
	return nil
}
