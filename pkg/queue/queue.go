package queue

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrQueueClosed is returned by Dequeue and Enqueue once the queue is closed.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned by Enqueue when a pending limit is configured and reached.
	ErrQueueFull = errors.New("queue full")

	// ErrDisconnected means a Reply was settled without a result.
	ErrDisconnected = errors.New("worker disconnected before sending result")
)

// Queue is the shared backlog of Jobs consumed by the worker pool.
type Queue interface {
	// Enqueue appends job without waiting for a consumer.
	Enqueue(job *Job) error

	// Dequeue claims the next job, blocking until one is available.
	// Each job is handed to exactly one caller, in Enqueue order.
	Dequeue(ctx context.Context) (*Job, error)

	// Len is the number of jobs waiting to be claimed.
	Len() int

	// Close stops the queue and drops the replies of unclaimed jobs.
	Close() error
}
