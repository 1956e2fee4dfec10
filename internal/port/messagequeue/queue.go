// Package messagequeue defines the durable message queue port (interface).
package messagequeue

import (
	"context"
	"fmt"
	"time"
)

// Delivery is one message handed to a consumer. Attempt counts deliveries of
// this message including the current one, so redeliveries arrive with
// Attempt > 1.
type Delivery struct {
	Subject string
	Data    []byte
	Attempt int
}

// Handler processes a delivery. Returning nil acknowledges the message and
// permanently removes it. Returning a *RetryError schedules redelivery after
// the embedded delay. Any other error requeues the message with the queue's
// default redelivery timing.
type Handler func(ctx context.Context, d Delivery) error

// RetryError asks the queue to redeliver the message after a delay.
type RetryError struct {
	After time.Duration
	Err   error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Queue is the port interface for durable publish/consume with at-least-once
// delivery. Publish persists the message before returning. Unacknowledged
// messages become redeliverable after the visibility timeout expires.
type Queue interface {
	// Publish durably sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe attaches a consumer to the given subject. Multiple
	// subscriptions to the same subject compete for messages, forming a
	// worker pool. The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// In-flight messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by genrelay.
const (
	SubjectTaskCreated    = "tasks.created"    // admission → workers
	SubjectTaskDeadLetter = "tasks.deadletter" // tasks that exhausted their retry budget
)
