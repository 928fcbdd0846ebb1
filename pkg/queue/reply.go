package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Reply is a single-use channel delivering exactly one Result to exactly one waiting caller.
// The writer side never blocks: if the reader is gone the result is dropped.
type Reply struct {
	ch        chan Result
	once      sync.Once
	abandoned atomic.Bool
}

// NewReply creates an unresolved Reply.
func NewReply() *Reply {
	return &Reply{ch: make(chan Result, 1)}
}

// Resolve delivers res. Only the first Resolve or Drop has any effect.
// It returns false when the result will never be read, either because the
// handle was already settled or because the reader abandoned the wait.
func (r *Reply) Resolve(res Result) bool {
	delivered := false
	r.once.Do(func() {
		r.ch <- res
		close(r.ch)
		delivered = true
	})
	return delivered && !r.abandoned.Load()
}

// Drop settles the handle without a result; the reader observes ErrDisconnected.
func (r *Reply) Drop() {
	r.once.Do(func() {
		close(r.ch)
	})
}

// Wait blocks until the handle is settled or ctx is done.
// Giving up on ctx marks the handle abandoned; the job keeps running.
func (r *Reply) Wait(ctx context.Context) (Result, error) {
	select {
	case res, ok := <-r.ch:
		if !ok {
			return Result{}, ErrDisconnected
		}
		return res, nil
	case <-ctx.Done():
		r.abandoned.Store(true)
		return Result{}, ctx.Err()
	}
}

// Abandoned reports whether the reader stopped waiting.
func (r *Reply) Abandoned() bool {
	return r.abandoned.Load()
}
