package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/domain"
)

// RetryPolicy bounds transient-failure retries for one stage.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	return p
}

// Executor runs one stage at a time: invoke the stage, validate its output,
// and apply the retry policy. Retry state is an explicit attempt counter and
// next-delay value, never recursion.
type Executor struct {
	deps     *Deps
	attempts domain.StageLogRepository
	logger   zerolog.Logger

	// sleep is injectable so tests do not wait on real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor. attempts may be nil to skip the stage log.
func NewExecutor(deps *Deps, attempts domain.StageLogRepository, logger zerolog.Logger) *Executor {
	return &Executor{
		deps:     deps,
		attempts: attempts,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Execute drives one stage to a single outcome. Transient failures are
// retried up to the stage's bound with exponential backoff and jitter;
// every other kind propagates immediately. The returned StageError always
// names the stage.
func (e *Executor) Execute(ctx context.Context, stage Stage, stageIndex int, job *domain.Job) (json.RawMessage, *domain.StageError) {
	policy := stage.Retry.withDefaults()

	attempt := 1
	delay := policy.BaseDelay
	for {
		start := time.Now()
		out, err := e.runOnce(ctx, stage, job)
		e.logAttempt(ctx, stage, stageIndex, job.ID, attempt, start, err)

		if err == nil {
			raw, merr := json.Marshal(out)
			if merr != nil {
				return nil, domain.NewStageError(domain.ErrKindValidation, stage.Name, "unencodable stage output", merr)
			}
			return raw, nil
		}

		// Job-level deadline or cancellation belongs to the orchestrator;
		// do not bury it in a retry loop.
		if ctx.Err() != nil {
			return nil, e.stageError(stage, err)
		}

		kind := domain.KindOf(err)
		if !kind.Retryable() || attempt >= policy.MaxAttempts {
			return nil, e.stageError(stage, err)
		}

		wait := jitter(delay)
		e.logger.Warn().
			Str("job_id", job.ID).
			Str("stage", stage.Name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("pipeline: transient stage failure, retrying")

		if serr := e.sleep(ctx, wait); serr != nil {
			return nil, e.stageError(stage, err)
		}
		attempt++
		delay *= 2
	}
}

func (e *Executor) runOnce(ctx context.Context, stage Stage, job *domain.Job) (any, error) {
	stageCtx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	out, err := stage.Run(stageCtx, e.deps, job)
	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, domain.NewPortError(domain.ErrKindTransient,
				fmt.Sprintf("stage timed out after %s", stage.Timeout), err)
		}
		return nil, err
	}

	// A structurally invalid response is a failure even though the call
	// itself succeeded.
	if stage.Validate != nil {
		if verr := stage.Validate(out); verr != nil {
			return nil, domain.NewStageError(domain.ErrKindValidation, stage.Name, verr.Error(), verr)
		}
	}
	return out, nil
}

func (e *Executor) stageError(stage Stage, err error) *domain.StageError {
	var se *domain.StageError
	if errors.As(err, &se) {
		return domain.NewStageError(se.Kind, stage.Name, se.Summary(), err)
	}
	return domain.NewStageError(domain.KindOf(err), stage.Name, err.Error(), err)
}

func (e *Executor) logAttempt(ctx context.Context, stage Stage, stageIndex int, jobID string, attempt int, start time.Time, err error) {
	if e.attempts == nil {
		return
	}
	row := domain.StageAttempt{
		JobID:      jobID,
		Stage:      stage.Name,
		StageIndex: stageIndex,
		Attempt:    attempt,
		DurationMS: time.Since(start).Milliseconds(),
		Status:     "success",
	}
	if err != nil {
		row.Status = "error"
		row.Error = err.Error()
	}
	if lerr := e.attempts.LogAttempt(ctx, row); lerr != nil {
		e.logger.Warn().Err(lerr).Str("job_id", jobID).Str("stage", stage.Name).Msg("pipeline: stage log write failed")
	}
}

// jitter spreads the delay across ±50% so synchronized retries from
// parallel slots do not stampede the external service.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
