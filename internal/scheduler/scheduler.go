// Package scheduler drives recurring jobs on independent cadences. Each job
// runs in its own goroutine, but sequentially with respect to itself: tick
// N+1 cannot start before tick N returns, so a slow source can never overlap
// its own next cycle, and one hung job never blocks the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job describes one recurring task.
type Job struct {
	Name      string
	Interval  time.Duration
	Immediate bool // run once at startup before the first tick
	Run       func(ctx context.Context) error
}

// Scheduler owns an explicit set of recurring-task descriptors.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger
}

// New constructs an empty Scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Add registers a job. Must be called before Run.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Run blocks until ctx is cancelled, executing every registered job at its
// own interval. Job errors are logged and retried at the next tick; they
// never terminate the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return errors.New("scheduler: no jobs registered")
	}
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("scheduler: job %q has non-positive interval", job.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			return s.runJob(ctx, job)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	if job.Immediate {
		s.execute(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	s.logger.Debug().Str("job", job.Name).Msg("executing job")
	if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Str("job", job.Name).Msg("job failed; retrying next tick")
	}
}
