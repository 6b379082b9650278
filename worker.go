package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a periodic unit of work: dispatcher ticks and the notifier both
// implement it.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Closer is an optional interface for jobs that need cleanup
type Closer interface {
	Close() error
}

type Worker struct {
	jobs []Job
	log  zerolog.Logger
	wg   sync.WaitGroup
}

func NewWorker(log zerolog.Logger) *Worker {
	return &Worker{
		jobs: make([]Job, 0),
		log:  log,
	}
}

func (w *Worker) Register(job Job) {
	w.jobs = append(w.jobs, job)
}

func (w *Worker) Start(ctx context.Context) {
	for _, job := range w.jobs {
		w.wg.Add(1)
		go w.runJob(ctx, job)
	}
	w.log.Info().Int("jobs", len(w.jobs)).Msg("started workers")
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

// Close closes all jobs that implement the Closer interface
func (w *Worker) Close() {
	for _, job := range w.jobs {
		if closer, ok := job.(Closer); ok {
			if err := closer.Close(); err != nil {
				w.log.Error().Err(err).Str("job", job.Name()).Msg("error closing job")
			} else {
				w.log.Info().Str("job", job.Name()).Msg("closed")
			}
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job Job) {
	defer w.wg.Done()

	w.log.Info().Str("job", job.Name()).Dur("interval", job.Interval()).Msg("job started")

	w.executeJob(ctx, job)

	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.executeJob(ctx, job)
		case <-ctx.Done():
			w.log.Info().Str("job", job.Name()).Msg("job stopped")
			return
		}
	}
}

func (w *Worker) executeJob(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("job", job.Name()).Interface("panic", r).Msg("panic recovered")
		}
	}()

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		w.log.Error().Err(err).Str("job", job.Name()).Dur("took", duration).Msg("job run failed")
	} else {
		w.log.Debug().Str("job", job.Name()).Dur("took", duration).Msg("job run completed")
	}
}
