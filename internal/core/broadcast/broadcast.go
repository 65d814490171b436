// Package broadcast runs the authority's fixed-rate jobs: the periodic world
// push and upkeep.
package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/blobarena/internal/core/observability/log"
)

// DefaultWorldRate is the PeriodicWorldUpdate frequency in Hz.
const DefaultWorldRate = 30

// Interval converts a rate in Hz to a tick period.
func Interval(hz float64) time.Duration {
	if hz <= 0 {
		hz = DefaultWorldRate
	}
	return time.Duration(float64(time.Second) / hz)
}

// Job is one periodic task. Fn reports whether it did any work; errors are
// logged and the job keeps running.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) (bool, error)
}

type JobStats struct {
	Name    string `json:"name"`
	Runs    uint64 `json:"runs"`
	Skipped uint64 `json:"skipped"`
	Errors  uint64 `json:"errors"`
}

type job struct {
	Job
	runs    atomic.Uint64
	skipped atomic.Uint64
	errors  atomic.Uint64
}

type Scheduler struct {
	jobs []*job
	log  log.Log
}

func New(logger log.Log) *Scheduler {
	if logger == nil {
		logger = log.Provide()
	}
	return &Scheduler{log: logger.With(log.String("component", "scheduler"))}
}

// Every registers a job. Call before Run.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) (bool, error)) {
	s.jobs = append(s.jobs, &job{Job: Job{Name: name, Interval: interval, Fn: fn}})
}

// Run ticks every job on its own goroutine until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	s.log.Debug("Job started", log.String("job", j.Name), log.Duration("interval", j.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			did, err := j.Fn(ctx)
			j.runs.Add(1)
			if !did {
				j.skipped.Add(1)
			}
			if err != nil {
				j.errors.Add(1)
				s.log.Warn("Job failed", log.String("job", j.Name), log.Error(err))
			}
		}
	}
}

func (s *Scheduler) Stats() []JobStats {
	out := make([]JobStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStats{
			Name:    j.Name,
			Runs:    j.runs.Load(),
			Skipped: j.skipped.Load(),
			Errors:  j.errors.Load(),
		})
	}
	return out
}
