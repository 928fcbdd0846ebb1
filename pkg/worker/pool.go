package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Pool runs a fixed set of workers over one shared queue.
// A worker that dies is not replaced; Alive reports how many remain.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	alive   atomic.Int32
	started atomic.Bool
	logger  zerolog.Logger
}

// NewPool creates n workers sharing d.
func NewPool(n int, d Deps) *Pool {
	p := &Pool{
		workers: make([]*Worker, 0, n),
		logger:  d.Logger.With().Str("component", "pool").Logger(),
	}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, NewWorker(i, d))
	}
	return p
}

// Start spawns every worker once; later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		p.alive.Add(1)
		go p.run(ctx, w)
	}

	p.logger.Info().Int("workers", len(p.workers)).Msg("worker pool started")
}

func (p *Pool) run(ctx context.Context, w *Worker) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			remaining := p.alive.Add(-1)
			w.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Int32("alive", remaining).
				Msg("worker terminated abnormally and will not be restarted")
			return
		}
		p.alive.Add(-1)
	}()

	w.Run(ctx)
}

// Size is the number of workers the pool was created with.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Alive is the number of workers still running.
func (p *Pool) Alive() int {
	return int(p.alive.Load())
}

// Done is closed once every worker has returned.
func (p *Pool) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	return done
}
