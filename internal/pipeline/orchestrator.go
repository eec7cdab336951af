package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/domain"
)

// Orchestrator drives one claimed job through the fixed stage sequence,
// persisting state after every transition so pollers always observe the
// job's true execution point.
//
// State machine: queued → running → {running (next stage) | completed |
// failed | cancelled}. The queued→running transition happens in the claim;
// completed, failed, and cancelled are terminal.
type Orchestrator struct {
	jobs       domain.JobRepository
	stages     []Stage
	exec       *Executor
	jobTimeout time.Duration
	logger     zerolog.Logger
}

// NewOrchestrator builds an orchestrator over the given stage list.
func NewOrchestrator(jobs domain.JobRepository, stages []Stage, exec *Executor, jobTimeout time.Duration, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:       jobs,
		stages:     stages,
		exec:       exec,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// StageCount returns the declared number of stages.
func (o *Orchestrator) StageCount() int {
	return len(o.stages)
}

// Run executes job until a terminal status and returns it. The job must
// have been claimed (status running). Starting from job.StageIndex rather
// than zero lets a requeued job resume past its persisted outputs.
//
// If ctx is cancelled by process shutdown the job is left running and
// returned as such; startup requeue hands it to another slot.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) domain.JobStatus {
	runCtx := ctx
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("topic", job.Params.Topic).
		Int("stage_index", job.StageIndex).
		Msg("orchestrator: job started")

	for idx := job.StageIndex; idx < len(o.stages); idx++ {
		if ctx.Err() != nil {
			return domain.JobStatusRunning
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return o.fail(ctx, job, domain.ErrorRecord{
				Stage:   idx,
				Kind:    domain.ErrKindTimeout,
				Message: "job exceeded wall-clock budget",
			})
		}

		// Cancellation is checked at stage boundaries only; completed
		// outputs are never rolled back.
		if cancelled, err := o.jobs.CancelRequested(ctx, job.ID); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: cancel check failed")
		} else if cancelled {
			return o.cancel(ctx, job, idx)
		}

		stage := o.stages[idx]
		raw, serr := o.exec.Execute(runCtx, stage, idx, job)
		if serr != nil {
			if ctx.Err() != nil {
				// Shutdown mid-stage: leave the job running for requeue.
				return domain.JobStatusRunning
			}
			rec := domain.ErrorRecord{Stage: idx, Kind: serr.Kind, Message: serr.Summary()}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				rec.Kind = domain.ErrKindTimeout
				rec.Message = "job exceeded wall-clock budget"
			}
			return o.fail(ctx, job, rec)
		}

		if err := o.jobs.AppendStageOutput(ctx, job.ID, idx, raw); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Str("stage", stage.Name).Msg("orchestrator: persist stage output failed")
			return o.fail(ctx, job, domain.ErrorRecord{
				Stage:   idx,
				Kind:    domain.ErrKindTransient,
				Message: "failed to persist stage output",
			})
		}
		job.StageOutputs = append(job.StageOutputs, raw)
		job.StageIndex = idx + 1

		o.logger.Info().
			Str("job_id", job.ID).
			Str("stage", stage.Name).
			Int("stage_index", idx).
			Msg("orchestrator: stage completed")
	}

	if err := o.jobs.MarkCompleted(ctx, job.ID); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: mark completed failed")
		return domain.JobStatusRunning
	}
	job.Status = domain.JobStatusCompleted
	o.logger.Info().Str("job_id", job.ID).Msg("orchestrator: job completed")
	return domain.JobStatusCompleted
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, rec domain.ErrorRecord) domain.JobStatus {
	if err := o.jobs.MarkFailed(ctx, job.ID, rec); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: mark failed failed")
	}
	job.Status = domain.JobStatusFailed
	job.ErrorRecord = &rec
	o.logger.Warn().
		Str("job_id", job.ID).
		Int("stage", rec.Stage).
		Str("kind", string(rec.Kind)).
		Str("reason", rec.Message).
		Msg("orchestrator: job failed")
	return domain.JobStatusFailed
}

func (o *Orchestrator) cancel(ctx context.Context, job *domain.Job, idx int) domain.JobStatus {
	if err := o.jobs.MarkCancelled(ctx, job.ID); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: mark cancelled failed")
	}
	job.Status = domain.JobStatusCancelled
	o.logger.Info().Str("job_id", job.ID).Int("stage_index", idx).Msg("orchestrator: job cancelled")
	return domain.JobStatusCancelled
}
