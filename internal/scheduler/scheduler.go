package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"indexheat/internal/refresh"
)

// Scheduler triggers recurring refresh passes on a cron schedule. Overlap
// between a scheduled pass and a manually triggered one is resolved by the
// runner's advisory lock, not here.
type Scheduler struct {
	cron   *cron.Cron
	runner *refresh.Runner
	logger zerolog.Logger
}

// New constructs a scheduler for the given cron spec (standard five-field
// syntax, e.g. "0 18 * * 0" for Sundays at 18:00).
func New(spec string, runner *refresh.Runner, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}

	if _, err := s.cron.AddFunc(spec, s.runScheduledPass); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins dispatching; returns immediately.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("refresh schedule started")
	s.cron.Start()
}

// Stop halts dispatching and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("refresh schedule stopped")
}

func (s *Scheduler) runScheduledPass() {
	s.logger.Info().Msg("scheduled refresh triggered")
	task, err := s.runner.CreateAndRun(context.Background(), refresh.Options{})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled refresh failed to run")
		return
	}
	s.logger.Info().Str("task_id", task.TaskID).Str("status", task.Status).Msg("scheduled refresh finished")
}
