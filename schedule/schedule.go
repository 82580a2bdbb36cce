// Package schedule runs the crawl, sweep and digest jobs on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"estate-notifier/metrics"
)

// ErrRunning is returned by TryRun when the job is already running.
var ErrRunning = errors.New("job already running")

// Job is a named task that never runs concurrently with itself,
// whether triggered by cron or by hand.
type Job struct {
	run     func(ctx context.Context) error
	logger  *slog.Logger
	metrics *metrics.Metrics
	name    string
	running atomic.Bool
}

// NewJob wraps run.
func NewJob(name string, run func(ctx context.Context) error, logger *slog.Logger, m *metrics.Metrics) *Job {
	return &Job{name: name, run: run, logger: logger, metrics: m}
}

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Running reports whether the job is in progress.
func (j *Job) Running() bool { return j.running.Load() }

// TryRun runs the job synchronously, or returns ErrRunning without waiting.
func (j *Job) TryRun(ctx context.Context) error {
	if !j.running.CompareAndSwap(false, true) {
		j.metrics.JobRunsTotal.WithLabelValues(j.name, "skipped").Inc()
		j.logger.Info("Job already running, skipping", "job", j.name)
		return ErrRunning
	}
	defer j.running.Store(false)

	gauge := j.metrics.JobRunning.WithLabelValues(j.name)
	gauge.Set(1)
	defer gauge.Set(0)

	start := time.Now()
	j.logger.Info("Job started", "job", j.name)
	if err := j.run(ctx); err != nil {
		j.metrics.JobRunsTotal.WithLabelValues(j.name, "error").Inc()
		j.logger.Error("Job failed", "job", j.name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.metrics.JobRunsTotal.WithLabelValues(j.name, "ok").Inc()
	j.logger.Info("Job finished", "job", j.name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Scheduler triggers jobs from cron expressions in the standard 5-field format.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New creates a scheduler in the given time zone.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add schedules job at expr, e.g. "0 21 * * *".
func (s *Scheduler) Add(expr string, job *Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if err := job.TryRun(ctx); err != nil && !errors.Is(err, ErrRunning) {
			s.logger.Warn("Scheduled job failed", "job", job.Name(), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s at %q: %w", job.Name(), expr, err)
	}
	s.logger.Info("Job scheduled", "job", job.Name(), "expr", expr)
	return nil
}

// Run starts the scheduler and blocks until ctx is done. Jobs in flight see ctx
// canceled and Run waits for them to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", "entries", len(s.cron.Entries()))
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
