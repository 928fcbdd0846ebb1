package worker

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
)

// Deps is everything a worker shares with its siblings. Store and Events are optional.
type Deps struct {
	Queue     queue.Queue
	Converter converter.Converter
	Counter   *ActiveCounter
	Store     storage.Store
	Events    events.Publisher
	Logger    zerolog.Logger
}

// Worker repeatedly claims the next job, converts it and answers its reply.
type Worker struct {
	id int
	Deps
	logger zerolog.Logger
}

// NewWorker creates worker number id.
func NewWorker(id int, d Deps) *Worker {
	return &Worker{
		id:     id,
		Deps:   d,
		logger: d.Logger.With().Str("component", "worker").Int("worker", id).Logger(),
	}
}

// ID returns the worker number.
func (w *Worker) ID() int {
	return w.id
}

// Run loops until the queue is closed or ctx is done. A panic in the converter
// propagates out of Run after the claimed job's reply has been dropped.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Msg("worker started")

	for {
		job, err := w.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Info().Msg("worker stopped")
				return
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			continue
		}

		w.logger.Info().
			Int64("active", w.Counter.Load()).
			Str("job_id", job.ID).
			Dur("waited", time.Since(job.EnqueuedAt)).
			Msg("claimed job")

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	w.Counter.Inc()
	settled := false
	defer func() {
		w.Counter.Dec()
		if !settled {
			// abnormal exit: never leave the submitter waiting
			job.Reply.Drop()
			w.finish(job, queue.Result{Err: errors.New("worker terminated during conversion")})
		}
	}()

	started := time.Now()
	w.updateRecord(job.ID, func(j *models.ConversionJob) {
		j.Status = models.StatusProcessing
		j.WorkerID = w.id
		j.StartedAt = started
	})

	res := w.convert(ctx, job)
	if res.Err != nil {
		w.logger.Error().Err(res.Err).Str("job_id", job.ID).Msg("conversion failed")
	}

	if !job.Reply.Resolve(res) {
		w.logger.Debug().Str("job_id", job.ID).Msg("submitter gone, result discarded")
	}
	settled = true

	w.finish(job, res)
}

// convert dispatches on the input variant. Converter errors pass through unchanged.
func (w *Worker) convert(ctx context.Context, job *queue.Job) queue.Result {
	switch in := job.Input.(type) {
	case queue.InlineInput:
		data, err := w.Converter.ConvertInline(ctx, in.Data)
		if err != nil {
			return queue.Result{Err: err}
		}
		return queue.Result{Output: queue.InlineOutput{Data: data}}

	case queue.FileInput:
		if err := w.Converter.ConvertFile(ctx, in.SourcePath, in.OutputDir); err != nil {
			return queue.Result{Err: err}
		}
		return queue.Result{Output: queue.Acknowledged{}}

	default:
		return queue.Result{Err: errors.Errorf("unsupported input %T", job.Input)}
	}
}

// finish records the terminal state and announces it.
func (w *Worker) finish(job *queue.Job, res queue.Result) {
	if w.Store == nil {
		return
	}

	w.updateRecord(job.ID, func(j *models.ConversionJob) {
		j.CompletedAt = time.Now()
		if res.Err != nil {
			j.Status = models.StatusFailed
			j.Error = res.Err.Error()
			return
		}
		j.Status = models.StatusCompleted
		if out, ok := res.Output.(queue.InlineOutput); ok {
			j.OutputSize = int64(len(out.Data))
		}
	})

	if w.Events == nil {
		return
	}
	rec, err := w.Store.Get(context.Background(), job.ID)
	if err != nil {
		return
	}
	if err := w.Events.Publish(context.Background(), events.FromJob(rec)); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("publish event failed")
	}
}

func (w *Worker) updateRecord(jobID string, fn func(*models.ConversionJob)) {
	if w.Store == nil {
		return
	}
	if err := w.Store.Update(context.Background(), jobID, fn); err != nil {
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger update failed")
	}
}
