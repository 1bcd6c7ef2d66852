// Package scheduler runs each platform's cycle on a fixed interval,
// skipping a tick when the previous cycle is still running.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodically fired cycle.
type Job struct {
	Name         string
	Interval     time.Duration
	StartupDelay time.Duration
	Run          func(ctx context.Context) error
}

// Scheduler drives a set of jobs, one goroutine per job. Overlapping
// fires of the same job coalesce: a tick arriving while the previous run
// is still in flight is skipped with a warning.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger
}

// New constructs a Scheduler.
func New(jobs []Job, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight cycles to
// finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn().Str("job", job.Name).Msg("job has no interval, skipping")
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	log := s.logger.With().Str("job", job.Name).Logger()

	if job.StartupDelay > 0 {
		timer := time.NewTimer(job.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	var (
		running  atomic.Bool
		inflight sync.WaitGroup
	)
	fire := func() {
		if !running.CompareAndSwap(false, true) {
			log.Warn().Msg("previous cycle still running, skipping tick")
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer running.Store(false)
			started := time.Now()
			if err := job.Run(ctx); err != nil {
				log.Error().Err(err).Dur("took", time.Since(started)).Msg("cycle failed")
				return
			}
			log.Debug().Dur("took", time.Since(started)).Msg("cycle completed")
		}()
	}

	fire()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			return
		case <-ticker.C:
			fire()
		}
	}
}
