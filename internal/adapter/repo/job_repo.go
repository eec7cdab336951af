package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"comicforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The jobs
// table doubles as the durable FIFO queue: claiming is a single
// FOR UPDATE SKIP LOCKED statement, so concurrent slots never race on the
// same record and queued jobs survive process restarts.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, owner_id, params, stage_index, status, stage_outputs,
error_stage, error_kind, error_message, cancel_requested, created_at, updated_at`

// EnsureSchema creates the jobs and stage_attempts tables when absent.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	params JSONB NOT NULL,
	stage_index INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'queued',
	stage_outputs JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_stage INT,
	error_kind TEXT,
	error_message TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE INDEX IF NOT EXISTS jobs_queued_idx ON jobs (created_at) WHERE status = 'queued';`,
		`CREATE TABLE IF NOT EXISTS stage_attempts (
	id BIGSERIAL PRIMARY KEY,
	job_id UUID NOT NULL REFERENCES jobs(id),
	stage TEXT NOT NULL,
	stage_index INT NOT NULL,
	attempt INT NOT NULL,
	duration_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	}
	for _, stmt := range ddl {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure jobs schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new job record in queued status.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	query := `
INSERT INTO jobs (id, owner_id, params, stage_index, status)
VALUES ($1, $2, $3, 0, $4);
`
	_, err = r.pool.Exec(ctx, query, job.ID, job.OwnerID, params, domain.JobStatusQueued)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1;`, jobColumns)
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// ClaimNext atomically moves the oldest queued job to running and returns it.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context) (*domain.Job, error) {
	query := fmt.Sprintf(`
WITH next_job AS (
	SELECT id
	FROM jobs
	WHERE status = 'queued'
	ORDER BY created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
),
claimed AS (
	UPDATE jobs
	SET status = 'running', updated_at = now()
	WHERE id IN (SELECT id FROM next_job)
	RETURNING %s
)
SELECT * FROM claimed;
`, jobColumns)

	job, err := scanJob(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, err
	}
	return job, nil
}

// AppendStageOutput appends one output and advances the stage index. The
// stage_index guard keeps appends strictly in stage order even if a stale
// orchestrator retries.
func (r *JobRepositoryPG) AppendStageOutput(ctx context.Context, jobID string, stageIndex int, output []byte) error {
	query := `
UPDATE jobs
SET stage_outputs = stage_outputs || $3::jsonb,
    stage_index = $2 + 1,
    updated_at = now()
WHERE id = $1 AND status = 'running' AND stage_index = $2;
`
	tag, err := r.pool.Exec(ctx, query, jobID, stageIndex, output)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append stage output %d for job %s: %w", stageIndex, jobID, domain.ErrJobTerminal)
	}
	return nil
}

// MarkCompleted transitions a running job to completed.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, `
UPDATE jobs SET status = 'completed', updated_at = now()
WHERE id = $1 AND status = 'running';
`)
}

// MarkFailed writes the error record and transitions the job to failed.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, rec domain.ErrorRecord) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_stage = $2,
    error_kind = $3,
    error_message = $4,
    updated_at = now()
WHERE id = $1 AND status IN ('queued', 'running');
`
	tag, err := r.pool.Exec(ctx, query, jobID, rec.Stage, rec.Kind, rec.Message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

// MarkCancelled transitions a job to cancelled, keeping completed outputs.
func (r *JobRepositoryPG) MarkCancelled(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, `
UPDATE jobs SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND status IN ('queued', 'running');
`)
}

// RequestCancel flags a job for cancellation. Queued jobs are cancelled
// immediately; running jobs stop at the next stage boundary.
func (r *JobRepositoryPG) RequestCancel(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET cancel_requested = TRUE,
    status = CASE WHEN status = 'queued' THEN 'cancelled' ELSE status END,
    updated_at = now()
WHERE id = $1 AND status IN ('queued', 'running');
`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

// CancelRequested reads the cancellation flag.
func (r *JobRepositoryPG) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := r.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1;`, jobID).Scan(&flag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrNotFound
		}
		return false, err
	}
	return flag, nil
}

// RequeueOrphans returns running jobs to queued. Partial outputs already
// persisted are kept; stage_index tells the next orchestrator where to
// resume.
func (r *JobRepositoryPG) RequeueOrphans(ctx context.Context) (int, error) {
	query := `
UPDATE jobs SET status = 'queued', updated_at = now()
WHERE status = 'running';
`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *JobRepositoryPG) finish(ctx context.Context, jobID, query string) error {
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job        domain.Job
		params     []byte
		outputs    []byte
		errStage   *int
		errKind    *string
		errMessage *string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&params,
		&job.StageIndex,
		&job.Status,
		&outputs,
		&errStage,
		&errKind,
		&errMessage,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.StageOutputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs: %w", err)
		}
	}
	if errStage != nil && errKind != nil {
		job.ErrorRecord = &domain.ErrorRecord{
			Stage: *errStage,
			Kind:  domain.ErrorKind(*errKind),
		}
		if errMessage != nil {
			job.ErrorRecord.Message = *errMessage
		}
	}
	return &job, nil
}
