// Feedmill is a feed polling and ingestion daemon.
//
// It concurrently fetches the syndication feeds it has been subscribed
// to, deduplicates their entries, and keeps a durable store of both,
// announcing every change on an event bus and serving the result over
// HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"feedmill/internal/api"
	"feedmill/internal/bus"
	"feedmill/internal/favicon"
	"feedmill/internal/fetch"
	"feedmill/internal/migrations"
	"feedmill/internal/parse"
	"feedmill/internal/poll"
	"feedmill/internal/sanitize"
	"feedmill/internal/schedule"
	"feedmill/internal/sqlite"
	"feedmill/logger"
)

const userAgent = "feedmill/1.0"

type config struct {
	Port     int    `env:"PORT, default=4444"`
	Database string `env:"DATABASE, required"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	// Cron expressions for the two background passes. An empty
	// FAVICON_CRON disables icon refreshing.
	PollCron    string `env:"POLL_CRON, default=@every 15m"`
	FaviconCron string `env:"FAVICON_CRON, default=@every 24h"`

	FetchTimeoutMs   int      `env:"FETCH_TIMEOUT_MS, default=10000"`
	FeedConcurrency  int      `env:"FEED_CONCURRENCY, default=8"`
	EntryConcurrency int      `env:"ENTRY_CONCURRENCY, default=4"`
	RecencyWindowMin int      `env:"RECENCY_WINDOW_MIN, default=5"`
	CORSOrigins      []string `env:"CORS_ORIGINS"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat))

	// Start the application
	if err := runDaemon(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, cfg config) error {
	slog.Info("running", "config", cfg)

	// Connect to the db. The pragmas matter: immediate transactions
	// from concurrent feed polls queue on busy_timeout instead of
	// failing with SQLITE_BUSY.
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	var (
		repo    = sqlite.New(dbx)
		fetcher = fetch.New(userAgent)
		events  = bus.New()
	)

	engine, err := poll.New(poll.Config{
		Store:            repo,
		Fetcher:          fetcher,
		Parser:           parse.New(),
		Sanitizer:        sanitize.New(),
		Bus:              events,
		FeedConcurrency:  cfg.FeedConcurrency,
		EntryConcurrency: cfg.EntryConcurrency,
		RecencyWindow:    time.Duration(cfg.RecencyWindowMin) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("error building engine: %s", err)
	}

	sched, err := schedule.New(engine, favicon.New(repo, fetcher), cfg.PollCron, cfg.FaviconCron, poll.Options{
		FetchTimeout:       time.Duration(cfg.FetchTimeoutMs) * time.Millisecond,
		NotifyOnCompletion: true,
	})
	if err != nil {
		return fmt.Errorf("error building scheduler: %s", err)
	}

	srvr := api.NewServer(api.Config{Port: cfg.Port, CORSOrigins: cfg.CORSOrigins}, repo, engine)

	var g run.Group

	// HTTP server
	g.Add(func() error {
		slog.Info("listening", "port", cfg.Port)
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})

	// Cron-triggered polling and favicon passes
	schedCtx, schedCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return sched.Run(schedCtx)
	}, func(error) {
		schedCancel()
	})

	// Event log: drain the bus so changes show up in the daemon's output.
	sub, unsubscribe := events.Subscribe()
	g.Add(func() error {
		for ev := range sub {
			slog.Debug("event", "kind", ev.Kind, "feed_id", ev.FeedID, "entry_id", ev.EntryID)
		}
		return nil
	}, func(error) {
		unsubscribe()
	})

	// Shut everything down on interrupt
	g.Add(run.SignalHandler(ctx, os.Interrupt))

	defer events.Close()
	err = g.Run()
	if errors.As(err, &run.SignalError{}) {
		slog.Info("shutting down", "signal", err)
		return nil
	}
	return err
}
