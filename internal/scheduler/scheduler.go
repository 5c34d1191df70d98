// Package scheduler kicks off scheduled campaigns when their send time
// arrives.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/store"
)

// Dispatcher starts one campaign send.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string) error
}

// Scheduler periodically scans for due campaigns and dispatches them. The
// dispatch engine's own status CAS makes a double pickup harmless.
type Scheduler struct {
	campaigns  store.CampaignStore
	dispatcher Dispatcher
	tick       time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// New creates a scheduler scanning at the given interval.
func New(campaigns store.CampaignStore, dispatcher Dispatcher, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		tick:       tick,
		log:        logger.With("scheduler"),
		now:        time.Now,
	}
}

// Run scans until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "tick", s.tick.String())
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scan failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce dispatches every campaign whose scheduled time has arrived.
// Campaigns are sent sequentially so one identity's rate limits drain
// predictably.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	due, err := s.campaigns.ListScheduledDue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list due campaigns: %w", err)
	}
	for _, c := range due {
		s.log.Info("dispatching scheduled campaign", "campaign_id", c.ID, "name", c.Name)
		if err := s.dispatcher.Dispatch(ctx, c.ID); err != nil {
			s.log.Error("scheduled dispatch failed", "campaign_id", c.ID, "error", err.Error())
		}
	}
	return nil
}
