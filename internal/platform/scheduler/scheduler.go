// Package scheduler runs named jobs on cron schedules. It is deliberately
// small: one goroutine per job, UTC-based cron expressions, and job errors
// logged but never fatal, so one bad week cannot stop the loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/cron"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

type job struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []job
	clock  clockwork.Clock
	logger *slog.Logger
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock injects a fake clock for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register parses the cron expression and adds the job. Registration order is
// irrelevant; jobs run independently.
func (s *Scheduler) Register(name, expr string, run func(ctx context.Context) error) error {
	schedule, err := cron.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, run: run})
	return nil
}

// Run blocks until ctx is canceled, firing each job at its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			return s.runJob(gctx, j)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, j job) error {
	for {
		now := s.clock.Now()
		next, err := j.schedule.Next(now)
		if err != nil {
			return fmt.Errorf("job %q: %w", j.name, err)
		}
		s.logger.DebugContext(ctx, "job scheduled", "job", j.name, "next_run", next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(next.Sub(now)):
		}

		started := s.clock.Now()
		if err := j.run(ctx); err != nil {
			s.logger.ErrorContext(ctx, "scheduled job failed",
				"job", j.name, "error", err, "duration", s.clock.Since(started))
			continue
		}
		s.logger.InfoContext(ctx, "scheduled job completed",
			"job", j.name, "duration", s.clock.Since(started))
	}
}
