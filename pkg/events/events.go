package events

import (
	"context"
	"time"

	"github.com/z-wentao/docflow/pkg/models"
)

// Event announces that a conversion reached a terminal state.
type Event struct {
	JobID      string           `json:"job_id"`
	Kind       models.JobKind   `json:"kind"`
	Status     models.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	WorkerID   int              `json:"worker_id"`
	DurationMS int64            `json:"duration_ms"`
	At         time.Time        `json:"at"`
}

// FromJob builds the completion event for a finished ledger record.
func FromJob(job *models.ConversionJob) Event {
	return Event{
		JobID:      job.JobID,
		Kind:       job.Kind,
		Status:     job.Status,
		Error:      job.Error,
		WorkerID:   job.WorkerID,
		DurationMS: job.Duration().Milliseconds(),
		At:         job.CompletedAt,
	}
}

// Publisher delivers events to downstream consumers. Failures never affect
// the conversion that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
