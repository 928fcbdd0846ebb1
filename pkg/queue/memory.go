package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process FIFO with a single consumption point.
// Producers append under mu; consumers take the claim lock for the duration of
// one pull, so only one worker is ever waiting on the head of the queue.
type MemoryQueue struct {
	mu         sync.Mutex
	items      []*Job
	maxPending int

	// claim is the consumer-side lock. A channel rather than a sync.Mutex so
	// that acquiring it can be abandoned with ctx.
	claim  chan struct{}
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewMemoryQueue creates an unbounded queue when maxPending is zero or negative.
// A positive maxPending makes Enqueue fail with ErrQueueFull at that depth.
func NewMemoryQueue(maxPending int) *MemoryQueue {
	return &MemoryQueue{
		maxPending: maxPending,
		claim:      make(chan struct{}, 1),
		ready:      make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

// Enqueue appends job and wakes a waiting consumer.
func (mq *MemoryQueue) Enqueue(job *Job) error {
	mq.mu.Lock()
	select {
	case <-mq.closed:
		mq.mu.Unlock()
		return ErrQueueClosed
	default:
	}
	if mq.maxPending > 0 && len(mq.items) >= mq.maxPending {
		mq.mu.Unlock()
		return ErrQueueFull
	}
	mq.items = append(mq.items, job)
	mq.mu.Unlock()

	select {
	case mq.ready <- struct{}{}:
	default:
		// a wakeup is already pending
	}
	return nil
}

// Dequeue takes the claim lock, then pops the head or waits for one to arrive.
func (mq *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case mq.claim <- struct{}{}:
	case <-mq.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-mq.claim }()

	for {
		if job, ok := mq.pop(); ok {
			return job, nil
		}

		select {
		case <-mq.ready:
		case <-mq.closed:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (mq *MemoryQueue) pop() (*Job, bool) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	select {
	case <-mq.closed:
		return nil, false
	default:
	}
	if len(mq.items) == 0 {
		return nil, false
	}
	job := mq.items[0]
	mq.items[0] = nil
	mq.items = mq.items[1:]
	if len(mq.items) == 0 {
		mq.items = nil
	}
	return job, true
}

// Len returns the number of unclaimed jobs.
func (mq *MemoryQueue) Len() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.items)
}

// Close wakes every consumer with ErrQueueClosed. Jobs that were never claimed
// have their replies dropped so submitters see ErrDisconnected.
func (mq *MemoryQueue) Close() error {
	mq.once.Do(func() {
		mq.mu.Lock()
		close(mq.closed)
		pending := mq.items
		mq.items = nil
		mq.mu.Unlock()

		for _, job := range pending {
			job.Reply.Drop()
		}
	})
	return nil
}
