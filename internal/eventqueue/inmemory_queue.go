package eventqueue

import (
	"context"
)

// InMemoryQueue is a simple Queue implementation backed by a buffered
// channel. It is safe for concurrent use.
//
// NotBefore is not honored here: messages are delivered as soon as a
// consumer asks. Deployments that need delayed redelivery use one of the
// durable queues.
type InMemoryQueue struct {
	ch chan Message
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch: make(chan Message, capacity),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, m Message) error {
	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Message, error) {
	select {
	case m := <-q.ch:
		return &m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch)
}
