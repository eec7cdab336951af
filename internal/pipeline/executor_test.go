package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"comicforge/internal/domain"
)

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	var delays []time.Duration
	e := fastExecutor(deps, &delays)

	calls := 0
	stage := Stage{
		Name:  "content",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
		Run: func(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
			calls++
			if calls < 3 {
				return nil, domain.NewPortError(domain.ErrKindTransient, "rate limited", nil)
			}
			return map[string]string{"result": "ok"}, nil
		},
	}

	raw, serr := e.Execute(context.Background(), stage, 0, newTestJob("job-retry"))
	if serr != nil {
		t.Fatalf("Execute() error = %v, want success after retries", serr)
	}
	if calls != 3 {
		t.Fatalf("stage ran %d times, want 3", calls)
	}
	if len(raw) == 0 {
		t.Fatal("Execute() returned empty output")
	}
	if len(delays) != 2 {
		t.Fatalf("slept %d times, want 2", len(delays))
	}
	// Exponential base doubles per attempt; jitter keeps each wait within
	// [base/2, 3*base/2).
	for i, base := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond} {
		if delays[i] < base/2 || delays[i] >= base*3/2 {
			t.Errorf("backoff %d = %v, want in [%v, %v)", i, delays[i], base/2, base*3/2)
		}
	}
}

func TestExecutePermanentFailsImmediately(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	var delays []time.Duration
	e := fastExecutor(deps, &delays)

	calls := 0
	stage := Stage{
		Name:  "content",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
		Run: func(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
			calls++
			return nil, domain.NewPortError(domain.ErrKindPermanent, "prompt rejected", nil)
		},
	}

	_, serr := e.Execute(context.Background(), stage, 0, newTestJob("job-perm"))
	if serr == nil {
		t.Fatal("Execute() succeeded, want permanent failure")
	}
	if calls != 1 {
		t.Errorf("stage ran %d times, want 1", calls)
	}
	if len(delays) != 0 {
		t.Errorf("slept %d times, want 0", len(delays))
	}
	if serr.Kind != domain.ErrKindPermanent {
		t.Errorf("kind = %s, want %s", serr.Kind, domain.ErrKindPermanent)
	}
	if serr.Stage != "content" {
		t.Errorf("stage = %q, want content", serr.Stage)
	}
	if serr.Summary() != "prompt rejected" {
		t.Errorf("summary = %q, want original port message", serr.Summary())
	}
}

func TestExecuteValidationFailureNotRetried(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	e := fastExecutor(deps, nil)

	calls := 0
	stage := Stage{
		Name:  "visual",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
		Run: func(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
			calls++
			return &VisualOutput{}, nil
		},
		Validate: func(out any) error {
			return errors.New("no panel prompts")
		},
	}

	_, serr := e.Execute(context.Background(), stage, 2, newTestJob("job-val"))
	if serr == nil {
		t.Fatal("Execute() succeeded, want validation failure")
	}
	if calls != 1 {
		t.Errorf("stage ran %d times, want 1", calls)
	}
	if serr.Kind != domain.ErrKindValidation {
		t.Errorf("kind = %s, want %s", serr.Kind, domain.ErrKindValidation)
	}
}

func TestExecuteExhaustsRetryBound(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	var delays []time.Duration
	e := fastExecutor(deps, &delays)

	calls := 0
	stage := Stage{
		Name:  "planning",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
		Run: func(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
			calls++
			return nil, domain.NewPortError(domain.ErrKindTransient, "service unavailable", nil)
		},
	}

	_, serr := e.Execute(context.Background(), stage, 1, newTestJob("job-exhaust"))
	if serr == nil {
		t.Fatal("Execute() succeeded, want failure after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("stage ran %d times, want 3", calls)
	}
	if len(delays) != 2 {
		t.Errorf("slept %d times, want 2", len(delays))
	}
	if serr.Kind != domain.ErrKindTransient {
		t.Errorf("kind = %s, want %s", serr.Kind, domain.ErrKindTransient)
	}
}

func TestExecuteStageTimeoutIsTransient(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	e := fastExecutor(deps, nil)

	stage := Stage{
		Name:    "render",
		Timeout: 5 * time.Millisecond,
		Retry:   RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		Run: func(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	_, serr := e.Execute(context.Background(), stage, 4, newTestJob("job-slow"))
	if serr == nil {
		t.Fatal("Execute() succeeded, want stage timeout")
	}
	if serr.Kind != domain.ErrKindTransient {
		t.Errorf("kind = %s, want %s", serr.Kind, domain.ErrKindTransient)
	}
	if serr.Stage != "render" {
		t.Errorf("stage = %q, want render", serr.Stage)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	e := fastExecutor(deps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	stage := Stage{
		Name:  "content",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
		Run: func(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
			calls++
			cancel()
			return nil, domain.NewPortError(domain.ErrKindTransient, "interrupted", nil)
		},
	}

	_, serr := e.Execute(ctx, stage, 0, newTestJob("job-cancel"))
	if serr == nil {
		t.Fatal("Execute() succeeded, want failure on cancelled context")
	}
	if calls != 1 {
		t.Errorf("stage ran %d times after cancel, want 1", calls)
	}
}

func TestJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := jitter(base)
		if got < base/2 || got >= base*3/2 {
			t.Fatalf("jitter(%v) = %v, want in [%v, %v)", base, got, base/2, base*3/2)
		}
	}
	if jitter(0) != 0 {
		t.Error("jitter(0) should be 0")
	}
}
