package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/z-wentao/docflow/pkg/models"
)

const redisIndexKey = "docflow:jobs:index"

// RedisJobStore keeps records as JSON values with a TTL, indexed by a sorted set
// scored on creation time.
type RedisJobStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisJobStore connects and pings Redis.
func NewRedisJobStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "connect redis")
	}

	return NewRedisJobStoreWithClient(client, ttl), nil
}

// NewRedisJobStoreWithClient wraps an existing client, e.g. a cluster client.
func NewRedisJobStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: ttl}
}

// "docflow:job:{jobID}"
func (rs *RedisJobStore) key(jobID string) string {
	return fmt.Sprintf("docflow:job:%s", jobID)
}

func (rs *RedisJobStore) Save(ctx context.Context, job *models.ConversionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rs.key(job.JobID), data, rs.ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(job.CreatedAt.UnixNano()),
			Member: job.JobID,
		})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "save job to redis")
	}
	return nil
}

func (rs *RedisJobStore) Get(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	data, err := rs.client.Get(ctx, rs.key(jobID)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrap(ErrNotFound, jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job from redis")
	}

	var job models.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, "unmarshal job")
	}
	return &job, nil
}

// Update is read-modify-write; concurrent updates of one job are serialized by
// the worker that owns it, so no WATCH is needed.
func (rs *RedisJobStore) Update(ctx context.Context, jobID string, updateFn func(*models.ConversionJob)) error {
	job, err := rs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	updateFn(job)
	return rs.Save(ctx, job)
}

func (rs *RedisJobStore) List(ctx context.Context) ([]*models.ConversionJob, error) {
	jobIDs, err := rs.client.ZRevRange(ctx, redisIndexKey, 0, listLimit-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read job index")
	}

	jobs := make([]*models.ConversionJob, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		job, err := rs.Get(ctx, jobID)
		if err != nil {
			// expired; drop it from the index
			rs.client.ZRem(ctx, redisIndexKey, jobID)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (rs *RedisJobStore) Delete(ctx context.Context, jobID string) error {
	deleted, err := rs.client.Del(ctx, rs.key(jobID)).Result()
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	rs.client.ZRem(ctx, redisIndexKey, jobID)

	if deleted == 0 {
		return errors.Wrap(ErrNotFound, jobID)
	}
	return nil
}

func (rs *RedisJobStore) Close() error {
	return rs.client.Close()
}

// CleanExpiredJobs removes index entries whose values have expired.
func (rs *RedisJobStore) CleanExpiredJobs(ctx context.Context) error {
	jobIDs, err := rs.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return errors.Wrap(err, "read job index")
	}

	for _, jobID := range jobIDs {
		exists, err := rs.client.Exists(ctx, rs.key(jobID)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			rs.client.ZRem(ctx, redisIndexKey, jobID)
		}
	}
	return nil
}
