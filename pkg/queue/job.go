package queue

import (
	"time"

	"github.com/google/uuid"
)

// Input is the payload of a Job. Exactly one variant is populated:
// InlineInput or FileInput.
type Input interface {
	isInput()
}

// InlineInput carries document bytes held in memory.
type InlineInput struct {
	Data []byte
}

// FileInput points at a document on disk; the result is written into OutputDir.
type FileInput struct {
	SourcePath string
	OutputDir  string
}

func (InlineInput) isInput() {}
func (FileInput) isInput()   {}

// Output mirrors Input: InlineOutput answers InlineInput, Acknowledged answers FileInput.
type Output interface {
	isOutput()
}

// InlineOutput carries the converted bytes.
type InlineOutput struct {
	Data []byte
}

// Acknowledged signals a file conversion finished without returning bytes.
type Acknowledged struct{}

func (InlineOutput) isOutput() {}
func (Acknowledged) isOutput() {}

// Result is what a worker writes into a Reply.
type Result struct {
	Output Output
	Err    error
}

// Matches reports whether out is the variant expected for in.
func Matches(in Input, out Output) bool {
	switch in.(type) {
	case InlineInput:
		_, ok := out.(InlineOutput)
		return ok
	case FileInput:
		_, ok := out.(Acknowledged)
		return ok
	default:
		return false
	}
}

// Job is one queued conversion request paired with its reply destination.
// It is owned by the queue until claimed, then by exactly one worker.
type Job struct {
	ID         string
	Input      Input
	Reply      *Reply
	EnqueuedAt time.Time
}

// NewJob wraps in with a fresh ID and reply handle.
func NewJob(in Input) *Job {
	return &Job{
		ID:         uuid.New().String(),
		Input:      in,
		Reply:      NewReply(),
		EnqueuedAt: time.Now(),
	}
}

// Size is the number of payload bytes the job keeps alive while queued.
func (j *Job) Size() int64 {
	if in, ok := j.Input.(InlineInput); ok {
		return int64(len(in.Data))
	}
	return 0
}
