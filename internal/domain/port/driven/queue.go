package driven

import (
	"context"
	"time"
)

// QueueMessage is the JSON contract between the webhook ingress (producer) and
// the worker loop (consumer).
type QueueMessage struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Repo           string    `json:"repo"`
	PRNumber       int       `json:"pr_number"`
	HeadSHA        string    `json:"head_sha"`
	EventType      string    `json:"event_type"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Delivery is one received queue message plus its delivery metadata.
// ReceiveCount includes the current delivery.
type Delivery struct {
	ID           string
	Message      QueueMessage
	ReceiveCount int
}

// WorkQueue defines the driven port for the at-least-once work queue.
// Received messages stay invisible for the lease duration; unacknowledged
// messages become visible again and are redelivered. Implementations decide
// retry backoff and dead-lettering inside Fail.
type WorkQueue interface {
	// Enqueue appends a message to the named queue.
	Enqueue(ctx context.Context, queue string, msg QueueMessage) error

	// Receive leases up to max visible messages from the named queue.
	// Returns an empty slice when nothing is ready.
	Receive(ctx context.Context, queue string, max int, lease time.Duration) ([]Delivery, error)

	// Extend pushes the visibility deadline of an in-flight delivery forward.
	Extend(ctx context.Context, id string, lease time.Duration) error

	// Ack removes a successfully processed delivery from the queue.
	Ack(ctx context.Context, id string) error

	// Fail records a processing failure. The message is scheduled for
	// redelivery with backoff, or moved to the dead-letter store once the
	// receive bound is exhausted.
	Fail(ctx context.Context, id string, reason string) error
}

// DeadLetter is a message that exceeded its retry bound, retained with its
// original payload for operator triage. Nothing reprocesses these
// automatically.
type DeadLetter struct {
	ID           string
	Queue        string
	Message      QueueMessage
	Reason       string
	ReceiveCount int
	FailedAt     time.Time
}

// DeadLetterStore defines the driven port for dead-letter inspection.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context) ([]DeadLetter, error)
}
