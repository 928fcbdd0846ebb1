package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/z-wentao/docflow/pkg/converter"
	"github.com/z-wentao/docflow/pkg/events"
	"github.com/z-wentao/docflow/pkg/models"
	"github.com/z-wentao/docflow/pkg/queue"
	"github.com/z-wentao/docflow/pkg/storage"
	"github.com/z-wentao/docflow/pkg/worker"
)

// Config sizes the processor.
type Config struct {
	// Workers is the fixed number of concurrent conversions.
	Workers int
	// MaxPending bounds the queue when positive; zero keeps it unbounded.
	MaxPending int
}

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger shared by the processor and its workers.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithStore records every submission in a job ledger.
func WithStore(s storage.Store) Option {
	return func(p *Processor) { p.store = s }
}

// WithPublisher announces every finished conversion.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Processor) { p.events = pub }
}

// Processor owns the producer side of the shared queue and the worker pool.
// Each submission carries its own reply handle, so any number of callers may
// wait concurrently without sharing state.
type Processor struct {
	queue   queue.Queue
	pool    *worker.Pool
	counter *worker.ActiveCounter
	store   storage.Store
	events  events.Publisher
	logger  zerolog.Logger

	cancel context.CancelFunc
}

// New creates the queue and starts cfg.Workers workers over conv.
// The workers run until Shutdown.
func New(cfg Config, conv converter.Converter, opts ...Option) (*Processor, error) {
	if cfg.Workers < 1 {
		return nil, errors.Wrapf(ErrInvalidWorkers, "got %d", cfg.Workers)
	}
	if conv == nil {
		return nil, errors.New("converter is required")
	}

	p := &Processor{
		queue:   queue.NewMemoryQueue(cfg.MaxPending),
		counter: &worker.ActiveCounter{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "processor").Logger()

	p.pool = worker.NewPool(cfg.Workers, worker.Deps{
		Queue:     p.queue,
		Converter: conv,
		Counter:   p.counter,
		Store:     p.store,
		Events:    p.events,
		Logger:    p.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.pool.Start(ctx)

	return p, nil
}

// SubmitInline queues data for conversion and waits for the converted bytes.
// Cancelling ctx stops the wait only; the job is still converted and its result discarded.
func (p *Processor) SubmitInline(ctx context.Context, data []byte) ([]byte, error) {
	job := queue.NewJob(queue.InlineInput{Data: data})

	out, err := p.submit(ctx, job, &models.ConversionJob{
		Kind:      models.KindInline,
		InputSize: int64(len(data)),
	})
	if err != nil {
		return nil, err
	}
	return out.(queue.InlineOutput).Data, nil
}

// SubmitFile queues a file conversion and waits for the acknowledgement.
func (p *Processor) SubmitFile(ctx context.Context, sourcePath, outputDir string) error {
	job := queue.NewJob(queue.FileInput{SourcePath: sourcePath, OutputDir: outputDir})

	_, err := p.submit(ctx, job, &models.ConversionJob{
		Kind:       models.KindFile,
		SourcePath: sourcePath,
		OutputDir:  outputDir,
	})
	return err
}

func (p *Processor) submit(ctx context.Context, job *queue.Job, rec *models.ConversionJob) (queue.Output, error) {
	if p.store != nil {
		rec.JobID = job.ID
		rec.Status = models.StatusPending
		rec.CreatedAt = job.EnqueuedAt
		if err := p.store.Save(ctx, rec); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("ledger save failed")
		}
	}

	if err := p.queue.Enqueue(job); err != nil {
		p.markRejected(job.ID, err)
		if errors.Is(err, queue.ErrQueueClosed) {
			return nil, errors.Wrap(ErrDisconnected, "processor shut down")
		}
		return nil, err
	}

	res, err := job.Reply.Wait(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrDisconnected) {
			p.markRejected(job.ID, err)
			return nil, errors.Wrapf(ErrDisconnected, "job %s", job.ID)
		}
		p.logger.Debug().Err(err).Str("job_id", job.ID).Msg("submitter stopped waiting")
		return nil, err
	}

	if res.Err != nil {
		return nil, &ConversionError{JobID: job.ID, Err: res.Err}
	}

	if !queue.Matches(job.Input, res.Output) {
		p.logger.Error().
			Str("job_id", job.ID).
			Str("input", typeName(job.Input)).
			Str("output", typeName(res.Output)).
			Msg("worker answered with the wrong output variant")
		return nil, errors.Wrapf(ErrMismatchedResponse, "job %s: got %s for %s",
			job.ID, typeName(res.Output), typeName(job.Input))
	}

	return res.Output, nil
}

// markRejected fails a ledger record that no worker will ever finish.
func (p *Processor) markRejected(jobID string, cause error) {
	if p.store == nil {
		return
	}
	err := p.store.Update(context.Background(), jobID, func(j *models.ConversionJob) {
		if j.Status.Terminal() {
			return
		}
		j.Status = models.StatusFailed
		j.Error = cause.Error()
		j.CompletedAt = time.Now()
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger update failed")
	}
}

// Active is the number of conversions in flight.
func (p *Processor) Active() int {
	return int(p.counter.Load())
}

// PeakActive is the most conversions ever in flight at once.
func (p *Processor) PeakActive() int {
	return int(p.counter.Peak())
}

// Pending is the number of jobs waiting for a worker.
func (p *Processor) Pending() int {
	return p.queue.Len()
}

// Workers is the configured pool size.
func (p *Processor) Workers() int {
	return p.pool.Size()
}

// Alive is the number of workers still running; it only drops below Workers
// when a worker died abnormally.
func (p *Processor) Alive() int {
	return p.pool.Alive()
}

// Store returns the job ledger, or nil when none is configured.
func (p *Processor) Store() storage.Store {
	return p.store
}

// Shutdown stops accepting work, fails every queued job with ErrDisconnected and
// waits for in-flight conversions. If ctx ends first the running conversions are
// cancelled and ErrShutdownTimeout is returned.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.logger.Info().Int("pending", p.queue.Len()).Int("active", p.Active()).Msg("shutting down")
	p.queue.Close()

	select {
	case <-p.pool.Done():
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ErrShutdownTimeout
	}
}

func typeName(v any) string {
	switch v.(type) {
	case queue.InlineInput:
		return "inline input"
	case queue.FileInput:
		return "file input"
	case queue.InlineOutput:
		return "inline output"
	case queue.Acknowledged:
		return "acknowledgement"
	case nil:
		return "nothing"
	default:
		return "unknown"
	}
}
