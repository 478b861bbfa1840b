package hotfolder

import (
	"context"
	"log/slog"
	"time"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/util"
)

// FolderProcessor is the pass the scheduler runs.
type FolderProcessor interface {
	ProcessFolder(ctx context.Context, retry bool) (*Outcome, error)
}

// Scheduler runs a folder pass once a day at a fixed local time, with one
// delayed retry when the folder was empty.
type Scheduler struct {
	processor FolderProcessor
	cfg       config.SchedulerConfig
	location  *time.Location
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
}

// NewScheduler creates a scheduler firing in loc.
func NewScheduler(processor FolderProcessor, cfg config.SchedulerConfig, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		processor: processor,
		cfg:       cfg,
		location:  loc,
		now:       time.Now,
		after:     time.After,
	}
}

// Run blocks until ctx is cancelled. Pass errors are logged and the
// schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now().In(s.location)
		next := util.NextDailyRun(now, s.cfg.Hour, s.cfg.Minute)
		slog.Info("next hot folder run scheduled", "at", next.Format(time.RFC3339))

		if !s.wait(ctx, next.Sub(now)) {
			return nil
		}

		outcome, err := s.pass(ctx, false)
		if err != nil || outcome == nil || !outcome.RetryNeeded {
			continue
		}

		delay := s.cfg.RetryDelay()
		slog.Info("hot folder retry scheduled", "in", delay)
		if !s.wait(ctx, delay) {
			return nil
		}
		s.pass(ctx, true)
	}
}

func (s *Scheduler) pass(ctx context.Context, retry bool) (*Outcome, error) {
	outcome, err := s.processor.ProcessFolder(ctx, retry)
	if err != nil {
		slog.Error("hot folder pass failed", "retry", retry, "error", err)
		return outcome, err
	}
	if outcome != nil {
		slog.Info("hot folder pass finished", "retry", retry, "files", len(outcome.Files), "retry_needed", outcome.RetryNeeded)
	}
	return outcome, nil
}

// wait reports false when ctx ends first.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d < 0 {
		d = 0
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.after(d):
		return true
	}
}
