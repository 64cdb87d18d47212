// Package scheduler drives the periodic engine tick.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Enqueuer queues an evaluation pass.
type Enqueuer interface {
	EnqueuePass(reason, entityID string) error
}

// Scheduler enqueues one evaluation pass per tick interval. Passes run on the
// task queue workers, never inline, so a slow pass cannot delay the next tick.
type Scheduler struct {
	cron  *cron.Cron
	queue Enqueuer
}

// New creates a tick scheduler.
func New(queue Enqueuer) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		queue: queue,
	}
}

// Start begins ticking every tickSeconds.
func (s *Scheduler) Start(tickSeconds int) error {
	spec := fmt.Sprintf("@every %ds", tickSeconds)
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.queue.EnqueuePass("tick", ""); err != nil {
			log.Error().Str("component", "scheduler").Err(err).Msg("failed to enqueue tick pass")
		}
	})
	if err != nil {
		return fmt.Errorf("register tick job: %w", err)
	}
	s.cron.Start()
	log.Info().Str("component", "scheduler").Int("tick_seconds", tickSeconds).Msg("tick scheduler started")
	return nil
}

// Stop halts the tick and waits for a running callback to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Str("component", "scheduler").Msg("tick scheduler stopped")
}
