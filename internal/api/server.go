package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	"feedmill/internal/feedmill"
	"feedmill/internal/poll"
)

type (
	// Server exposes feeds, entries and derived counts over HTTP, and
	// lets callers subscribe feeds or trigger a poll.
	Server struct {
		*http.Server

		store      feedmill.Store
		engine     *poll.Engine
		entryCache *lru.Cache[int64, EntryResp]
	}

	Config struct {
		Port int
		// CORSOrigins lists allowed origins; empty means same-origin
		// only.
		CORSOrigins []string
	}
)

func NewServer(cfg Config, store feedmill.Store, engine *poll.Engine) *Server {
	var (
		r        = errRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[int64, EntryResp](1024)
	)

	srvr := &Server{
		store:      store,
		engine:     engine,
		entryCache: cache,
	}

	r.HandleFuncE("/v1/feeds", srvr.getFeeds).Methods(http.MethodGet)
	r.HandleFuncE("/v1/feeds", srvr.postFeeds).Methods(http.MethodPost)
	r.HandleFuncE("/v1/feeds/{feedID}", srvr.getFeed).Methods(http.MethodGet)
	r.HandleFuncE("/v1/feeds/{feedID}", srvr.deleteFeed).Methods(http.MethodDelete)
	r.HandleFuncE("/v1/feeds/{feedID}/entries", srvr.getFeedEntries).Methods(http.MethodGet)
	r.HandleFuncE("/v1/entries/{entryID}", srvr.getEntry).Methods(http.MethodGet)
	r.HandleFuncE("/v1/entries/{entryID}/read", srvr.putEntryRead).Methods(http.MethodPut)
	r.HandleFuncE("/v1/entries/{entryID}/archive", srvr.putEntryArchive).Methods(http.MethodPut)
	r.HandleFuncE("/v1/counts/unread", srvr.getUnreadCounts).Methods(http.MethodGet)
	r.HandleFuncE("/v1/polls", srvr.postPolls).Methods(http.MethodPost)

	var handler http.Handler = accessLogMiddleware(r)
	if len(cfg.CORSOrigins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		)(handler)
	}

	srvr.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srvr
}
