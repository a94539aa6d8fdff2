// Package maintenance runs the periodic housekeeping jobs: ledger
// retention and re-enqueueing of events the worker never picked up.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/metrics"
	"github.com/robfig/cron/v3"
)

type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

type StalledEvents interface {
	ListStalledEvents(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error)
}

type Publisher interface {
	Push(ctx context.Context, item domain.QueueItem) error
}

type Config struct {
	PurgeSchedule string
	Retention     time.Duration
	SweepSchedule string
	SweepGrace    time.Duration
	SweepBatch    int
	JobTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PurgeSchedule: "0 3 * * *",
		Retention:     90 * 24 * time.Hour,
		SweepSchedule: "@every 5m",
		SweepGrace:    10 * time.Minute,
		SweepBatch:    500,
		JobTimeout:    time.Minute,
	}
}

type Runner struct {
	ledger  Purger
	events  StalledEvents
	queue   Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	cron    *cron.Cron
	now     func() time.Time
}

// New builds a Runner. An empty schedule disables that job.
func New(ledger Purger, events StalledEvents, queue Publisher, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = def.SweepGrace
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	cl := cronLogger{logger}
	return &Runner{
		ledger:  ledger,
		events:  events,
		queue:   queue,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		now: time.Now,
	}
}

// Start registers the jobs and starts the scheduler.
func (r *Runner) Start() error {
	if r.cfg.PurgeSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.PurgeSchedule, r.job("ledger_purge", func(ctx context.Context) error {
			_, err := r.PurgeOnce(ctx)
			return err
		})); err != nil {
			return fmt.Errorf("scheduling ledger purge %q: %w", r.cfg.PurgeSchedule, err)
		}
	}
	if r.cfg.SweepSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.SweepSchedule, r.job("stalled_sweep", func(ctx context.Context) error {
			_, err := r.SweepOnce(ctx)
			return err
		})); err != nil {
			return fmt.Errorf("scheduling stalled-event sweep %q: %w", r.cfg.SweepSchedule, err)
		}
	}

	r.cron.Start()
	r.logger.Info("maintenance jobs started",
		"purge_schedule", r.cfg.PurgeSchedule,
		"sweep_schedule", r.cfg.SweepSchedule,
	)
	return nil
}

// Stop stops scheduling and waits for a running job, or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping maintenance jobs: %w", ctx.Err())
	}
}

func (r *Runner) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
		defer cancel()
		start := r.now()
		if err := fn(ctx); err != nil {
			r.logger.Error("maintenance job failed", "job", name, "error", err)
			return
		}
		r.logger.Debug("maintenance job finished", "job", name, "duration_ms", r.now().Sub(start).Milliseconds())
	}
}

// PurgeOnce deletes ledger rows older than the retention period.
func (r *Runner) PurgeOnce(ctx context.Context) (int64, error) {
	n, err := r.ledger.Purge(ctx, r.cfg.Retention)
	if err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.AttemptsPurged.Add(float64(n))
	}
	return n, nil
}

// SweepOnce pushes events that have stayed unprocessed for longer than the
// grace period back onto the delivery queue. It returns how many were
// pushed; a push failure stops the sweep and the rest wait for the next run.
func (r *Runner) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.SweepGrace)
	stalled, err := r.events.ListStalledEvents(ctx, cutoff, r.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing stalled events: %w", err)
	}

	pushed := 0
	for _, e := range stalled {
		item := domain.QueueItem{EventID: e.ID, EventType: e.Type, EnqueuedAt: r.now()}
		if err := r.queue.Push(ctx, item); err != nil {
			return pushed, fmt.Errorf("re-enqueuing event %s: %w", e.ID, err)
		}
		pushed++
		if r.metrics != nil {
			r.metrics.StalledEventsRequeued.Inc()
		}
	}

	if pushed > 0 {
		r.logger.Warn("re-enqueued stalled events", "count", pushed, "cutoff", cutoff)
	}
	return pushed, nil
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
