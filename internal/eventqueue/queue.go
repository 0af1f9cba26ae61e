package eventqueue

import (
	"context"
	"time"

	"github.com/duplexhq/duplex/pkg/api"
)

// Message wraps one canonical event for queue transport.
type Message struct {
	// ID identifies the message, not the execution: redeliveries of the
	// same event carry fresh ids.
	ID string

	Event *api.CanonicalEvent

	EnqueuedAt time.Time

	// NotBefore is the earliest time this message should be eligible for
	// processing. Zero value means "immediately" (i.e., at enqueue time).
	// Used by the worker to back off redeliveries.
	NotBefore time.Time

	// Attempts counts how many times this event has been handed to a
	// worker before.
	Attempts int
}

// Queue is the event transport interface. The upstream queue gives no
// ordering guarantee; consumers must tolerate arbitrary interleaving and
// duplication.
type Queue interface {
	// Enqueue adds a message to the queue. It should respect ctx for
	// cancellation.
	Enqueue(ctx context.Context, m Message) error

	// Dequeue removes and returns the next eligible message, blocking
	// until one is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Message, error)

	// Len returns the approximate number of messages queued.
	Len() int
}
