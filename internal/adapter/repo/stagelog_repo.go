package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"comicforge/internal/domain"
)

// StageLogRepositoryPG records per-attempt stage execution history, one row
// per executor attempt including retries.
type StageLogRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewStageLogRepository creates a stage log repository backed by PostgreSQL.
func NewStageLogRepository(pool *pgxpool.Pool) *StageLogRepositoryPG {
	return &StageLogRepositoryPG{pool: pool}
}

// LogAttempt inserts one attempt row.
func (r *StageLogRepositoryPG) LogAttempt(ctx context.Context, attempt domain.StageAttempt) error {
	query := `
INSERT INTO stage_attempts (job_id, stage, stage_index, attempt, duration_ms, status, error_message)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''));
`
	_, err := r.pool.Exec(ctx, query,
		attempt.JobID,
		attempt.Stage,
		attempt.StageIndex,
		attempt.Attempt,
		attempt.DurationMS,
		attempt.Status,
		attempt.Error,
	)
	return err
}
