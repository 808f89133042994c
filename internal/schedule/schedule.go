// Package schedule triggers the engine on a cron cadence.
//
// The engine itself knows nothing about timing; this is the external
// caller that decides when a poll happens.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"feedmill/internal/poll"
)

type Scheduler struct {
	cron        *cron.Cron
	engine      *poll.Engine
	refresher   Refresher
	pollEntry   cron.EntryID
	iconEntry   cron.EntryID
	pollOptions poll.Options
}

// Refresher is the separate favicon pass, scheduled on its own cadence.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// New wires a scheduler around the engine. pollSpec and iconSpec are cron
// expressions; an empty iconSpec disables the favicon pass.
func New(engine *poll.Engine, refresher Refresher, pollSpec, iconSpec string, opts poll.Options) (*Scheduler, error) {
	s := &Scheduler{
		cron:        cron.New(),
		engine:      engine,
		refresher:   refresher,
		pollOptions: opts,
	}

	var err error
	s.pollEntry, err = s.cron.AddFunc(pollSpec, func() {
		if _, err := s.engine.PollFeeds(context.Background(), s.pollOptions); err != nil {
			slog.Error("scheduled poll failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("error scheduling poll job: %w", err)
	}

	if iconSpec != "" {
		s.iconEntry, err = s.cron.AddFunc(iconSpec, func() {
			if err := s.refresher.RefreshAll(context.Background()); err != nil {
				slog.Error("scheduled favicon refresh failed", "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("error scheduling favicon job: %w", err)
		}
	}

	return s, nil
}

// Run starts the cron loop and blocks until ctx is canceled, then waits
// for any running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	slog.Info("scheduler started", "next_poll", s.NextPoll())

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	return nil
}

// NextPoll reports when the next poll fires.
func (s *Scheduler) NextPoll() time.Time {
	return s.cron.Entry(s.pollEntry).Next
}
