package duplex

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/duplexhq/duplex/internal/eventqueue"
	"github.com/duplexhq/duplex/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory event queue, and a
// Worker to provide a simple local pipeline for development and debugging.
//
// Typical usage:
//
//	runner, _ := duplex.NewLocalRunner(duplex.Config{MigrationBoundary: "1.9.0"})
//
//	// Synchronous sync (no queue/worker involved):
//	id, err := duplex.SyncExecution(ctx, runner.Engine, ev)
//
//	// Asynchronous sync:
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.SubmitAsync(ctx, ev)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory sync engine used by this runner.
	Engine Engine

	// Queue is the in-memory event queue used by the Worker.
	Queue eventqueue.Queue

	// Worker processes events from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a Worker with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(cfg Config) (*LocalRunner, error) {
	eng, err := NewInMemoryEngine(cfg)
	if err != nil {
		return nil, err
	}
	q := eventqueue.NewInMemoryQueue(1024)
	w := worker.New(eng, q, worker.Config{})

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: w,
	}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("duplex: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					// For local runner we treat cancellation as a clean shutdown signal.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// For other errors, log and keep going so a single bad event
					// doesn't kill the worker loop.
					log.Printf("duplex: local runner worker error: %v", err)
					continue
				}
				if !processed {
					// This only happens if ctx was cancelled before an event was
					// obtained. Loop will exit on next Dequeue when err == context.Canceled.
					continue
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// SubmitAsync enqueues an event for asynchronous processing. A worker picks
// it up and runs the execution and rule sync.
func (r *LocalRunner) SubmitAsync(ctx context.Context, ev *CanonicalEvent) error {
	return r.Worker.EnqueueEvent(ctx, ev)
}
