package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Queue yields event references in FIFO order.
type Queue interface {
	Pop(ctx context.Context, wait time.Duration) (*domain.QueueItem, error)
}

type EventSource interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	MarkEventProcessed(ctx context.Context, id string) error
}

type SubscriberResolver interface {
	ActiveSubscribersFor(ctx context.Context, eventType string) ([]domain.Webhook, error)
}

// RetryScheduler queues the attempt after failedAttempt.
type RetryScheduler interface {
	Schedule(ctx context.Context, eventID, webhookID string, failedAttempt int) error
}

type Config struct {
	// BlockTimeout bounds each blocking pop. Zero switches to non-blocking
	// pops spaced by PollInterval.
	BlockTimeout time.Duration
	PollInterval time.Duration
	// Concurrency caps simultaneous first attempts for one event; zero
	// means one goroutine per subscriber.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		BlockTimeout: 5 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Worker consumes the delivery queue and fans each event out to its
// subscribers.
type Worker struct {
	queue    Queue
	events   EventSource
	registry SubscriberResolver
	executor Attempter
	retries  RetryScheduler
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func New(queue Queue, events EventSource, registry SubscriberResolver, executor Attempter, retries RetryScheduler, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BlockTimeout < 0 {
		cfg.BlockTimeout = 0
	}
	return &Worker{
		queue:    queue,
		events:   events,
		registry: registry,
		executor: executor,
		retries:  retries,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins consuming. It returns ErrAlreadyRunning if the worker is
// running, including while an earlier Stop gave up waiting for the loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = Running

	go w.run(loopCtx, w.done)
	w.logger.Info("delivery worker started",
		"block_timeout", w.cfg.BlockTimeout.String(),
		"poll_interval", w.cfg.PollInterval.String(),
	)
	return nil
}

// Stop halts the loop and waits for the event being dispatched, if any, to
// finish. Stopping a stopped worker is a no-op. If ctx ends first the worker
// stays Running until the loop exits, so Start cannot launch a second
// consumer next to it.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == Stopped {
		w.mu.Unlock()
		return nil
	}
	w.cancel()
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		w.logger.Info("delivery worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping delivery worker: %w", ctx.Err())
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.done == done {
			w.state = Stopped
		}
		w.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		item, err := w.queue.Pop(ctx, w.cfg.BlockTimeout)
		if err == nil && item != nil {
			// A blocking pop is not interrupted by cancellation, so the item
			// can arrive after Stop. It has left Redis and is owned by this
			// process; finish it on a detached context.
			w.Dispatch(context.WithoutCancel(ctx), item)
			continue
		}

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrMalformedQueueItem):
			w.anomaly("malformed_item")
			w.logger.Warn("dropping malformed queue item", "error", err)
		case err != nil:
			w.logger.Error("failed to pop delivery queue", "error", err)
			w.sleep(ctx)
		case w.cfg.BlockTimeout == 0:
			w.sleep(ctx)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Dispatch processes one queue item: one first attempt per active
// subscriber, then the event is marked processed.
func (w *Worker) Dispatch(ctx context.Context, item *domain.QueueItem) {
	log := w.logger.With("event_id", item.EventID)

	event, err := w.events.GetEvent(ctx, item.EventID)
	if err != nil {
		w.anomaly("event_load_failed")
		log.Error("failed to load queued event", "error", err)
		return
	}
	if event == nil {
		w.anomaly("event_missing")
		log.Warn("queued event not found, dropping")
		return
	}
	if event.ProcessedAt != nil {
		w.anomaly("already_processed")
		log.Info("event already dispatched, skipping")
		return
	}

	subs, err := w.registry.ActiveSubscribersFor(ctx, event.Type)
	if err != nil {
		w.anomaly("resolve_failed")
		log.Error("failed to resolve subscribers", "event_type", event.Type, "error", err)
		return
	}

	if len(subs) > 0 {
		w.fanOut(ctx, event, subs)
	}

	if err := w.events.MarkEventProcessed(ctx, event.ID); err != nil {
		log.Error("failed to mark event processed", "error", err)
		return
	}
	log.Info("event dispatched", "event_type", event.Type, "subscribers", len(subs))
}

// fanOut waits for every subscriber's attempt; one failing or panicking
// never cancels the others.
func (w *Worker) fanOut(ctx context.Context, event *domain.Event, subs []domain.Webhook) {
	var g errgroup.Group
	if w.cfg.Concurrency > 0 {
		g.SetLimit(w.cfg.Concurrency)
	}

	for i := range subs {
		webhook := &subs[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("delivery panicked",
						"event_id", event.ID,
						"webhook_id", webhook.ID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
			}()

			outcome := w.executor.Attempt(ctx, event, webhook, 1)
			if outcome.ShouldRetry {
				_ = w.retries.Schedule(ctx, event.ID, webhook.ID, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) anomaly(reason string) {
	if w.metrics != nil {
		w.metrics.QueueAnomalies.WithLabelValues(reason).Inc()
	}
}
