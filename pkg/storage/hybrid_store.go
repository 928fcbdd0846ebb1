package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/z-wentao/docflow/pkg/models"
)

const (
	syncBatchSize = 50
	syncInterval  = 5 * time.Second
	syncDrainWait = 5 * time.Second
)

// HybridJobStore writes every record to a fast store (Redis) and copies
// terminal records to a durable one (Postgres) in background batches.
type HybridJobStore struct {
	hot       Store
	cold      Store
	syncQueue chan *models.ConversionJob
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewHybridJobStore starts the background sync goroutine.
func NewHybridJobStore(hot, cold Store, l zerolog.Logger) *HybridJobStore {
	s := &HybridJobStore{
		hot:       hot,
		cold:      cold,
		syncQueue: make(chan *models.ConversionJob, 100),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		logger:    l.With().Str("component", "hybrid-store").Logger(),
	}

	go s.syncWorker()

	return s
}

// Save writes the hot store synchronously and queues terminal records for the cold store.
func (s *HybridJobStore) Save(ctx context.Context, job *models.ConversionJob) error {
	if err := s.hot.Save(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("hot store write failed")
	}

	if job.Status.Terminal() {
		s.asyncSyncToCold(job)
	}
	return nil
}

// Get prefers the hot store and back-fills it on a cold hit.
func (s *HybridJobStore) Get(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	job, err := s.hot.Get(ctx, jobID)
	if err == nil {
		return job, nil
	}

	job, err = s.cold.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	go func(job models.ConversionJob) {
		if err := s.hot.Save(context.Background(), &job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("hot store back-fill failed")
		}
	}(*job)

	return job, nil
}

func (s *HybridJobStore) Update(ctx context.Context, jobID string, updateFn func(*models.ConversionJob)) error {
	if err := s.hot.Update(ctx, jobID, updateFn); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("hot store update failed, trying cold store")
		return s.cold.Update(ctx, jobID, updateFn)
	}

	job, err := s.hot.Get(ctx, jobID)
	if err == nil && job.Status.Terminal() {
		s.asyncSyncToCold(job)
	}
	return nil
}

// List reads the hot store and falls back to the cold one.
func (s *HybridJobStore) List(ctx context.Context) ([]*models.ConversionJob, error) {
	jobs, err := s.hot.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("hot store list failed, falling back")
		return s.cold.List(ctx)
	}
	return jobs, nil
}

func (s *HybridJobStore) Delete(ctx context.Context, jobID string) error {
	if err := s.hot.Delete(ctx, jobID); err != nil {
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("hot store delete failed")
	}
	return s.cold.Delete(ctx, jobID)
}

// Close flushes pending syncs (bounded wait) and closes both stores.
func (s *HybridJobStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)

		select {
		case <-s.done:
		case <-time.After(syncDrainWait):
			s.logger.Warn().Int("remaining", len(s.syncQueue)).Msg("sync drain timed out")
		}

		s.hot.Close()
		s.cold.Close()
	})
	return nil
}

func (s *HybridJobStore) asyncSyncToCold(job *models.ConversionJob) {
	select {
	case s.syncQueue <- job:
	default:
		s.logger.Warn().Msg("sync queue full, writing cold store inline")
		if err := s.cold.Save(context.Background(), job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("cold store write failed")
		}
	}
}

// syncWorker flushes every 50 records or every 5 seconds.
func (s *HybridJobStore) syncWorker() {
	defer close(s.done)

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	batch := make([]*models.ConversionJob, 0, syncBatchSize)

	for {
		select {
		case job := <-s.syncQueue:
			batch = append(batch, job)
			if len(batch) >= syncBatchSize {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
		drain:
			for {
				select {
				case job := <-s.syncQueue:
					batch = append(batch, job)
				default:
					break drain
				}
			}
			s.batchSave(batch)
			return
		}
	}
}

func (s *HybridJobStore) batchSave(jobs []*models.ConversionJob) {
	if len(jobs) == 0 {
		return
	}

	ok := 0
	for _, job := range jobs {
		if err := s.cold.Save(context.Background(), job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("cold store sync failed")
			continue
		}
		ok++
	}

	s.logger.Debug().Int("synced", ok).Int("batch", len(jobs)).Msg("synced jobs to cold store")
}

// CleanExpiredJobs prunes the hot tier's index when it supports expiry.
func (s *HybridJobStore) CleanExpiredJobs(ctx context.Context) error {
	if c, ok := s.hot.(interface {
		CleanExpiredJobs(ctx context.Context) error
	}); ok {
		return c.CleanExpiredJobs(ctx)
	}
	return nil
}
