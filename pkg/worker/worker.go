package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duplexhq/duplex/internal/eventqueue"
	"github.com/duplexhq/duplex/pkg/api"
)

// Config describes a Worker.
type Config struct {
	// Concurrency is how many messages are handled at once. Each message
	// gets its own handler goroutine; the relational transaction handles
	// they open are never shared. Defaults to 1.
	Concurrency int

	// Retry controls redelivery of messages whose handling failed with a
	// retryable error. The zero value means no redelivery.
	Retry RetryPolicy

	// Logger receives handler failures. Nil picks slog.Default().
	Logger *slog.Logger
}

// Worker pulls event messages from a Queue and drives them through the sync
// engine.
//
// Per message it runs SyncExecution followed by SyncRules. A gate rejection
// (api.ErrUnmetRequirements) is not a failure: the relational write is
// skipped by design and the worker still mirrors the event to the document
// store via MirrorExecution. Configuration errors are fatal and never
// redelivered; anything else is redelivered with backoff up to
// Retry.MaxAttempts.
type Worker struct {
	engine api.Engine
	queue  eventqueue.Queue
	cfg    Config
	logger *slog.Logger
}

// New creates a new Worker.
func New(engine api.Engine, queue eventqueue.Queue, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
	}
}

// EnqueueEvent enqueues a canonical event for asynchronous processing.
// It does NOT process the event itself; that is done by ProcessOne or Run.
func (w *Worker) EnqueueEvent(ctx context.Context, ev *api.CanonicalEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return w.queue.Enqueue(ctx, eventqueue.Message{
		ID:         uuid.NewString(),
		Event:      ev,
		EnqueuedAt: time.Now(),
	})
}

// ProcessOne pulls a single message from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing obtained (context cancelled
//     or dequeue failed).
//   - processed == true: a message was handled; err reports whether the
//     handling succeeded. A redelivery may already be scheduled.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	m, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	return true, w.handle(ctx, m)
}

func (w *Worker) handle(ctx context.Context, m *eventqueue.Message) error {
	ev := m.Event

	_, err := w.engine.SyncExecution(ctx, ev)
	switch {
	case err == nil:

	case errors.Is(err, api.ErrUnmetRequirements):
		// Relational write skipped by design; the document store has no
		// such requirement, so mirror the event there.
		if mirrorErr := w.engine.MirrorExecution(ctx, ev); mirrorErr != nil {
			return w.redeliver(ctx, m, mirrorErr)
		}

	case errors.Is(err, api.ErrConfigurationMissing):
		return err

	default:
		return w.redeliver(ctx, m, err)
	}

	// Rule batches are not redelivered wholesale: succeeded rules are
	// already committed and rule inserts are not idempotent, so a replay
	// would only manufacture duplicate-key noise. The aggregate error is
	// surfaced instead.
	if _, err := w.engine.SyncRules(ctx, ev); err != nil {
		return err
	}
	return nil
}

// redeliver schedules the message again with backoff, unless its attempts
// are exhausted. The causing error is returned either way so failures are
// never swallowed.
func (w *Worker) redeliver(ctx context.Context, m *eventqueue.Message, cause error) error {
	attempt := m.Attempts + 1
	if attempt >= w.cfg.Retry.MaxAttempts {
		return fmt.Errorf("giving up on %s after %d attempts: %w", m.Event.Arn, attempt, cause)
	}

	retry := eventqueue.Message{
		ID:         uuid.NewString(),
		Event:      m.Event,
		EnqueuedAt: time.Now(),
		NotBefore:  time.Now().Add(w.cfg.Retry.Delay(attempt)),
		Attempts:   attempt,
	}
	if enqErr := w.queue.Enqueue(ctx, retry); enqErr != nil {
		return errors.Join(cause, enqErr)
	}
	return cause
}

// Run handles messages with cfg.Concurrency goroutines until ctx is
// cancelled. Handler failures are logged, not fatal.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range w.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				processed, err := w.ProcessOne(ctx)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if err != nil {
					w.logger.ErrorContext(ctx, "event_handling_failed", slog.Any("error", err))
				}
				if !processed && err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
