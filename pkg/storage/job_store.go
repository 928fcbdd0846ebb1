package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/z-wentao/docflow/pkg/models"
)

// JobStore is the in-memory Store. It keeps at most maxJobs records and
// evicts the oldest insert first.
type JobStore struct {
	jobs    map[string]*models.ConversionJob
	order   []string
	maxJobs int
	mu      sync.RWMutex
}

// NewJobStore creates a memory store. maxJobs <= 0 means no limit.
func NewJobStore(maxJobs int) *JobStore {
	return &JobStore{
		jobs:    make(map[string]*models.ConversionJob),
		maxJobs: maxJobs,
	}
}

// Save stores a copy of job.
func (js *JobStore) Save(_ context.Context, job *models.ConversionJob) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[job.JobID]; !exists {
		js.order = append(js.order, job.JobID)
	}
	cp := *job
	js.jobs[job.JobID] = &cp

	for js.maxJobs > 0 && len(js.order) > js.maxJobs {
		oldest := js.order[0]
		js.order = js.order[1:]
		delete(js.jobs, oldest)
	}
	return nil
}

// Get returns a copy so callers cannot race with Update.
func (js *JobStore) Get(_ context.Context, jobID string) (*models.ConversionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return nil, errors.Wrap(ErrNotFound, jobID)
	}
	cp := *job
	return &cp, nil
}

// Update runs updateFn under the write lock.
func (js *JobStore) Update(_ context.Context, jobID string, updateFn func(*models.ConversionJob)) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return errors.Wrap(ErrNotFound, jobID)
	}
	updateFn(job)
	return nil
}

// List returns up to 100 records, newest first.
func (js *JobStore) List(_ context.Context) ([]*models.ConversionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make([]*models.ConversionJob, 0, len(js.jobs))
	for _, job := range js.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > listLimit {
		jobs = jobs[:listLimit]
	}
	return jobs, nil
}

func (js *JobStore) Delete(_ context.Context, jobID string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[jobID]; !exists {
		return errors.Wrap(ErrNotFound, jobID)
	}
	delete(js.jobs, jobID)
	for i, id := range js.order {
		if id == jobID {
			js.order = append(js.order[:i], js.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op for the memory store.
func (js *JobStore) Close() error {
	return nil
}
