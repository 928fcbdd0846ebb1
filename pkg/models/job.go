package models

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type JobKind string

const (
	KindInline JobKind = "inline"
	KindFile   JobKind = "file"
)

// ConversionJob is the ledger record of one submission.
// It mirrors the queued job for observability only; the queue itself is never rebuilt from it.
type ConversionJob struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	SourcePath  string    `json:"source_path,omitempty"`
	OutputDir   string    `json:"output_dir,omitempty"`
	Status      JobStatus `json:"status"`
	WorkerID    int       `json:"worker_id"`
	InputSize   int64     `json:"input_size"`
	OutputSize  int64     `json:"output_size"`
	Error       string    `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns the processing time, or zero while the job has not finished.
func (j *ConversionJob) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}
