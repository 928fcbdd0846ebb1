package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/z-wentao/docflow/pkg/models"
)

// ErrNotFound is returned when a job ID is unknown to a store.
var ErrNotFound = errors.New("job not found")

// Store persists conversion job records.
type Store interface {
	// Save inserts or replaces the record.
	Save(ctx context.Context, job *models.ConversionJob) error

	// Get returns the record for jobID or ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.ConversionJob, error)

	// Update applies updateFn to the stored record and writes it back.
	Update(ctx context.Context, jobID string, updateFn func(*models.ConversionJob)) error

	// List returns the most recent records, newest first.
	List(ctx context.Context) ([]*models.ConversionJob, error)

	// Delete removes the record.
	Delete(ctx context.Context, jobID string) error

	// Close releases connections.
	Close() error
}

const listLimit = 100
