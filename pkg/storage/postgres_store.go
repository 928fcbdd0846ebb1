package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/z-wentao/docflow/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	job_id       TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	source_path  TEXT,
	output_dir   TEXT,
	status       TEXT NOT NULL,
	worker_id    INTEGER NOT NULL DEFAULT 0,
	input_size   BIGINT NOT NULL DEFAULT 0,
	output_size  BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS conversion_jobs_created_at_idx ON conversion_jobs (created_at DESC);
`

const selectColumns = `
	SELECT job_id, kind, source_path, output_dir, status, worker_id,
	input_size, output_size, error, created_at, started_at, completed_at
	FROM conversion_jobs`

type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore opens the pool, pings it and ensures the schema exists.
func NewPostgresJobStore(ctx context.Context, connStr string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect postgres")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &PostgresJobStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the conversion_jobs table when missing.
func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "ensure schema")
	}
	return nil
}

func (s *PostgresJobStore) Save(ctx context.Context, job *models.ConversionJob) error {
	query := `
	INSERT INTO conversion_jobs (
	job_id, kind, source_path, output_dir, status, worker_id,
	input_size, output_size, error, created_at, started_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (job_id)
	DO UPDATE SET
	status = EXCLUDED.status,
	worker_id = EXCLUDED.worker_id,
	output_size = EXCLUDED.output_size,
	error = EXCLUDED.error,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.Kind,
		nullString(job.SourcePath),
		nullString(job.OutputDir),
		job.Status,
		job.WorkerID,
		job.InputSize,
		job.OutputSize,
		nullString(job.Error),
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return errors.Wrap(err, "save job to postgres")
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE job_id = $1`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query job")
	}
	return job, nil
}

func (s *PostgresJobStore) Update(ctx context.Context, jobID string, updateFn func(*models.ConversionJob)) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	updateFn(job)
	return s.Save(ctx, job)
}

// List returns the 100 newest records.
func (s *PostgresJobStore) List(ctx context.Context) ([]*models.ConversionJob, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT $1`, listLimit)
	if err != nil {
		return nil, errors.Wrap(err, "query jobs")
	}
	defer rows.Close()

	jobs := make([]*models.ConversionJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobStore) Delete(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversion_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return errors.Wrap(err, "delete job")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	if rowsAffected == 0 {
		return errors.Wrap(ErrNotFound, jobID)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.ConversionJob, error) {
	var job models.ConversionJob
	var sourcePath, outputDir, errorMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.JobID,
		&job.Kind,
		&sourcePath,
		&outputDir,
		&job.Status,
		&job.WorkerID,
		&job.InputSize,
		&job.OutputSize,
		&errorMsg,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.SourcePath = sourcePath.String
	job.OutputDir = outputDir.String
	job.Error = errorMsg.String
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
