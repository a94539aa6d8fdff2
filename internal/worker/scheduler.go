package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/engine"
	"github.com/Priya8975/hookrelay/internal/metrics"
	"github.com/Priya8975/hookrelay/internal/store"
)

// ErrAlreadyRunning is returned by Start on a running component.
var ErrAlreadyRunning = errors.New("already running")

// RetryStore is the durable schedule of pending retries.
type RetryStore interface {
	Schedule(ctx context.Context, task domain.RetryTask) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]store.ClaimedTask, error)
	Ack(ctx context.Context, task store.ClaimedTask) error
	Recover(ctx context.Context, claimedBefore time.Time) (int64, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
}

type WebhookReader interface {
	Webhook(ctx context.Context, id string) (*domain.Webhook, error)
}

// AttemptCounter reports the highest attempt number already recorded.
type AttemptCounter interface {
	LatestAttempt(ctx context.Context, eventID, webhookID string) (int, error)
}

// Attempter makes one delivery attempt.
type Attempter interface {
	Attempt(ctx context.Context, event *domain.Event, webhook *domain.Webhook, attemptNumber int) Outcome
}

type SchedulerConfig struct {
	Tick         time.Duration
	BatchSize    int
	Workers      int
	LeaseTimeout time.Duration
}

func (c *SchedulerConfig) withDefaults() {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 5 * time.Minute
	}
}

// Scheduler owns retries: it writes them to the durable schedule and fires
// them when due.
type Scheduler struct {
	retries  RetryStore
	events   EventReader
	webhooks WebhookReader
	attempts AttemptCounter
	executor Attempter
	policy   *engine.RetryPolicy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      SchedulerConfig
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	finished chan struct{}
	pool     *Pool

	// pairs serializes attempts for one (event, webhook) pair so two tasks
	// carrying the same attempt number cannot both deliver.
	pairs [pairStripes]sync.Mutex
}

const pairStripes = 64

func NewScheduler(retries RetryStore, events EventReader, webhooks WebhookReader, attempts AttemptCounter, executor Attempter, policy *engine.RetryPolicy, m *metrics.Metrics, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		retries:  retries,
		events:   events,
		webhooks: webhooks,
		attempts: attempts,
		executor: executor,
		policy:   policy,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Schedule queues attempt failedAttempt+1 after the backoff delay for that
// attempt. Failures are logged and counted; the retry is then lost.
func (s *Scheduler) Schedule(ctx context.Context, eventID, webhookID string, failedAttempt int) error {
	next := failedAttempt + 1
	delay := s.policy.Delay(next)
	task := domain.RetryTask{
		EventID:       eventID,
		WebhookID:     webhookID,
		AttemptNumber: next,
		DueAt:         s.now().Add(delay),
	}

	if err := s.retries.Schedule(ctx, task); err != nil {
		if s.metrics != nil {
			s.metrics.RetryScheduleFailures.Inc()
		}
		s.logger.Error("failed to schedule retry",
			"error", err,
			"event_id", eventID,
			"webhook_id", webhookID,
			"attempt", next,
		)
		return &domain.PersistenceError{Op: "scheduling retry", Err: err}
	}

	if s.metrics != nil {
		s.metrics.RetriesScheduled.Inc()
	}
	s.logger.Info("retry scheduled",
		"event_id", eventID,
		"webhook_id", webhookID,
		"attempt", next,
		"delay_ms", delay.Milliseconds(),
	)
	return nil
}

// Redeliver schedules an immediate attempt for the pair, numbered one past
// the latest recorded attempt.
func (s *Scheduler) Redeliver(ctx context.Context, eventID, webhookID string) (*domain.RetryTask, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "loading event", Err: err}
	}
	if event == nil {
		return nil, fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
	}

	webhook, err := s.webhooks.Webhook(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if webhook == nil {
		return nil, fmt.Errorf("webhook %s: %w", webhookID, domain.ErrNotFound)
	}
	if !webhook.IsActive {
		return nil, &domain.ValidationError{Field: "webhook", Message: "webhook is inactive"}
	}

	latest, err := s.attempts.LatestAttempt(ctx, eventID, webhookID)
	if err != nil {
		return nil, err
	}

	task := domain.RetryTask{
		EventID:       eventID,
		WebhookID:     webhookID,
		AttemptNumber: latest + 1,
		DueAt:         s.now(),
	}
	if err := s.retries.Schedule(ctx, task); err != nil {
		return nil, &domain.PersistenceError{Op: "scheduling redelivery", Err: err}
	}

	s.logger.Info("manual redelivery scheduled",
		"event_id", eventID,
		"webhook_id", webhookID,
		"attempt", task.AttemptNumber,
	)
	return &task, nil
}

// Start launches the claim loop and its worker pool. Tasks left in flight by
// a previous process are returned to the schedule first. It returns
// ErrAlreadyRunning until the previous run has fully drained.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	if n, err := s.retries.Recover(ctx, s.now()); err != nil {
		s.logger.Error("failed to recover in-flight retries", "error", err)
	} else if n > 0 {
		s.logger.Warn("recovered in-flight retries", "count", n)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	pool := NewPool("retry", s.cfg.Workers, s.logger)
	pool.Start(loopCtx)
	done := make(chan struct{})
	finished := make(chan struct{})
	s.pool = pool
	s.cancel = cancel
	s.finished = finished
	s.running = true

	go s.run(loopCtx, done)
	go func() {
		<-done
		pool.Stop()
		s.mu.Lock()
		if s.finished == finished {
			s.running = false
		}
		s.mu.Unlock()
		close(finished)
	}()
	s.logger.Info("retry scheduler started", "tick", s.cfg.Tick.String(), "workers", s.cfg.Workers)
	return nil
}

// Stop halts the claim loop and waits for retries already handed to the
// pool, or for ctx to end. The scheduler reports running until the pool has
// drained.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	finished := s.finished
	s.mu.Unlock()

	select {
	case <-finished:
		s.logger.Info("retry scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping retry scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	lastRecover := s.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			if now.Sub(lastRecover) >= s.cfg.LeaseTimeout/2 {
				s.recoverStale(ctx, now)
				lastRecover = now
			}
			s.poll(ctx, now)
		}
	}
}

func (s *Scheduler) recoverStale(ctx context.Context, now time.Time) {
	n, err := s.retries.Recover(ctx, now.Add(-s.cfg.LeaseTimeout))
	if err != nil {
		s.logger.Error("failed to recover stale retries", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("recovered stale in-flight retries", "count", n)
	}
}

func (s *Scheduler) poll(ctx context.Context, now time.Time) {
	tasks, err := s.retries.ClaimDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to claim due retries", "error", err)
		}
		return
	}

	for _, task := range tasks {
		task := task // per-iteration copy; the module targets go 1.21 loop semantics
		// Anything not submitted stays in flight and is recovered later.
		if !s.pool.Submit(ctx, func(jobCtx context.Context) { s.fire(jobCtx, task) }) {
			return
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, task store.ClaimedTask) {
	if s.metrics != nil {
		s.metrics.RetriesFired.Inc()
	}
	log := s.logger.With(
		"retry_id", task.ID,
		"event_id", task.EventID,
		"webhook_id", task.WebhookID,
		"attempt", task.AttemptNumber,
	)

	if err := s.execute(ctx, task.RetryTask, log); err != nil {
		log.Error("retry deferred until lease expiry", "error", err)
		return
	}

	if err := s.retries.Ack(ctx, task); err != nil {
		log.Error("failed to ack retry", "error", err)
	}
}

// execute returns an error only when the retry should be attempted again
// later; skips and completed attempts return nil.
func (s *Scheduler) execute(ctx context.Context, task domain.RetryTask, log *slog.Logger) error {
	event, err := s.events.GetEvent(ctx, task.EventID)
	if err != nil {
		return fmt.Errorf("loading event: %w", err)
	}
	if event == nil {
		log.Warn("retry skipped: event no longer exists")
		return nil
	}

	webhook, err := s.webhooks.Webhook(ctx, task.WebhookID)
	if err != nil {
		return fmt.Errorf("loading webhook: %w", err)
	}
	if webhook == nil || !webhook.IsActive {
		log.Info("retry skipped: webhook deleted or inactive")
		return nil
	}

	lock := s.pairLock(task.EventID, task.WebhookID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := s.attempts.LatestAttempt(ctx, task.EventID, task.WebhookID)
	if err != nil {
		return fmt.Errorf("reading latest attempt: %w", err)
	}
	if latest >= task.AttemptNumber {
		log.Warn("retry skipped: attempt already recorded", "latest_attempt", latest)
		return nil
	}

	outcome := s.executor.Attempt(ctx, event, webhook, task.AttemptNumber)
	if outcome.ShouldRetry {
		// Logged and counted inside Schedule.
		_ = s.Schedule(ctx, task.EventID, task.WebhookID, task.AttemptNumber)
	}
	return nil
}

func (s *Scheduler) pairLock(eventID, webhookID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(eventID))
	h.Write([]byte{0})
	h.Write([]byte(webhookID))
	return &s.pairs[h.Sum32()%pairStripes]
}
