package port

import (
	"context"
	"errors"
	"time"
)

// ErrSkipRetry marks a handler failure that retrying cannot fix, such as a
// malformed payload. Wrap it with %w.
var ErrSkipRetry = errors.New("queue: skip retry")

// Task is a background job: a stable type name plus opaque payload bytes.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks the backend to retry, so
// handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption controls enqueue behavior. Zero values mean "unspecified";
// adapters ignore fields they cannot express.
type EnqueueOption struct {
	Queue     string
	ProcessIn time.Duration
	MaxRetry  int
	UniqueTTL time.Duration
	Retention time.Duration
	Deadline  time.Time
}

// Client enqueues tasks.
type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server runs workers. Run blocks until ctx is canceled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}
