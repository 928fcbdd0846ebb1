package processor

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/z-wentao/docflow/pkg/queue"
)

var (
	// ErrConversionFailed matches every error returned because the converter failed.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrDisconnected means no worker ever answered the submission.
	ErrDisconnected = queue.ErrDisconnected

	// ErrQueueFull is returned when a pending limit is configured and reached.
	ErrQueueFull = queue.ErrQueueFull

	// ErrMismatchedResponse is an internal defect: a worker answered with the
	// wrong output variant for the submitted input.
	ErrMismatchedResponse = errors.New("mismatched response variant")

	// ErrShutdownTimeout is returned when in-flight conversions outlive the shutdown context.
	ErrShutdownTimeout = errors.New("shutdown did not finish before context deadline")

	ErrInvalidWorkers = errors.New("workers must be at least 1")
)

// ConversionError carries the converter's own error for one job.
type ConversionError struct {
	JobID string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConversionFailed) hold for every ConversionError.
func (e *ConversionError) Is(target error) bool {
	return target == ErrConversionFailed
}
