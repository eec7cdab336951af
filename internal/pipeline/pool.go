package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"comicforge/internal/domain"
)

// Pool runs a fixed number of execution slots. Each slot claims the oldest
// queued job, drives it through the orchestrator, and releases itself on
// the terminal state. Concurrency never exceeds the slot count; excess
// submissions simply stay queued in the store, which is the backpressure
// protecting the external services.
type Pool struct {
	jobs         domain.JobRepository
	orch         *Orchestrator
	slots        int
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewPool builds a pool with the given number of slots.
func NewPool(jobs domain.JobRepository, orch *Orchestrator, slots int, pollInterval time.Duration, logger zerolog.Logger) *Pool {
	if slots <= 0 {
		slots = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Pool{
		jobs:         jobs,
		orch:         orch,
		slots:        slots,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run requeues orphaned jobs and then blocks driving all slots until ctx is
// cancelled.
func (p *Pool) Run(ctx context.Context) error {
	requeued, err := p.jobs.RequeueOrphans(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		p.logger.Info().Int("count", requeued).Msg("pool: requeued orphaned jobs")
	}

	p.logger.Info().Int("slots", p.slots).Msg("pool: started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.slots; i++ {
		slot := i
		g.Go(func() error {
			return p.runSlot(gctx, slot)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) runSlot(ctx context.Context, slot int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.jobs.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoJobAvailable) {
				if werr := sleepCtx(ctx, p.pollInterval); werr != nil {
					return werr
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error().Err(err).Int("slot", slot).Msg("pool: claim failed")
			if werr := sleepCtx(ctx, p.pollInterval); werr != nil {
				return werr
			}
			continue
		}

		p.logger.Info().Str("job_id", job.ID).Int("slot", slot).Msg("pool: slot picked job")
		status := p.orch.Run(ctx, job)
		p.logger.Info().Str("job_id", job.ID).Int("slot", slot).Str("status", string(status)).Msg("pool: slot released")
	}
}
