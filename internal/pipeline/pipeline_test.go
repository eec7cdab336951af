package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/cache"
	"comicforge/internal/domain"
	"comicforge/internal/providers/imagen"
	"comicforge/internal/providers/reasoning"
)

const sampleScript = `CHARACTERS:
Leafy: a cheerful leaf
Sunny: the sun

SCENE 1:
Leafy: Plants make food from sunlight!
Sunny: And I supply the energy.

SCENE 2:
Leafy: We also need water and carbon dioxide.

EDUCATIONAL_SUMMARY:
Photosynthesis turns light, water, and air into food.`

const sampleReview = `SCORES:
Educational Value: 9/10 - solid

IMPROVEMENTS:

APPROVAL: YES`

// memJobs is an in-memory domain.JobRepository recording every persisted
// transition, so tests can assert that progress is durable after each stage.
type memJobs struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	order  []string
	events []string
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.Job)}
}

func (m *memJobs) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	cp.Status = domain.JobStatusQueued
	cp.CreatedAt = time.Now()
	m.jobs[job.ID] = &cp
	m.order = append(m.order, job.ID)
	m.events = append(m.events, "create:"+job.ID)
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	cp.StageOutputs = append([]json.RawMessage(nil), job.StageOutputs...)
	return &cp, nil
}

func (m *memJobs) ClaimNext(ctx context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status == domain.JobStatusQueued {
			job.Status = domain.JobStatusRunning
			m.events = append(m.events, "claim:"+id)
			cp := *job
			cp.StageOutputs = append([]json.RawMessage(nil), job.StageOutputs...)
			return &cp, nil
		}
	}
	return nil, domain.ErrNoJobAvailable
}

func (m *memJobs) AppendStageOutput(ctx context.Context, jobID string, stageIndex int, output []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusRunning || job.StageIndex != stageIndex {
		return domain.ErrJobTerminal
	}
	job.StageOutputs = append(job.StageOutputs, append([]byte(nil), output...))
	job.StageIndex = stageIndex + 1
	m.events = append(m.events, fmt.Sprintf("append:%s:%d", jobID, stageIndex))
	return nil
}

func (m *memJobs) MarkCompleted(ctx context.Context, jobID string) error {
	return m.transition(jobID, domain.JobStatusCompleted, nil)
}

func (m *memJobs) MarkFailed(ctx context.Context, jobID string, rec domain.ErrorRecord) error {
	return m.transition(jobID, domain.JobStatusFailed, &rec)
}

func (m *memJobs) MarkCancelled(ctx context.Context, jobID string) error {
	return m.transition(jobID, domain.JobStatusCancelled, nil)
}

func (m *memJobs) transition(jobID string, status domain.JobStatus, rec *domain.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	job.Status = status
	job.ErrorRecord = rec
	m.events = append(m.events, fmt.Sprintf("%s:%s", status, jobID))
	return nil
}

func (m *memJobs) RequestCancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	job.CancelRequested = true
	if job.Status == domain.JobStatusQueued {
		job.Status = domain.JobStatusCancelled
	}
	return nil
}

func (m *memJobs) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (m *memJobs) RequeueOrphans(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusRunning {
			job.Status = domain.JobStatusQueued
			n++
		}
	}
	return n, nil
}

func (m *memJobs) snapshot(jobID string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[jobID]
}

func (m *memJobs) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusRunning {
			n++
		}
	}
	return n
}

// fakeReasoner answers by prompt shape, mirroring the line-oriented formats
// the real service is instructed to produce.
type fakeReasoner struct {
	mu      sync.Mutex
	calls   int
	fail    func(prompt string, call int) error
	respond func(prompt string) (string, bool)
}

func (f *fakeReasoner) Generate(ctx context.Context, prompt string, cons reasoning.Constraints) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.fail
	respond := f.respond
	f.mu.Unlock()

	if fail != nil {
		if err := fail(prompt, call); err != nil {
			return "", err
		}
	}
	if respond != nil {
		if text, ok := respond(prompt); ok {
			return text, nil
		}
	}

	switch {
	case strings.Contains(prompt, "Create educational content"):
		return sampleScript, nil
	case strings.Contains(prompt, "learning objectives"):
		return "- Explain how plants make food\n- Identify what photosynthesis needs", nil
	case strings.Contains(prompt, "comic book cover"):
		return "Leafy and Sunny beam over a glowing forest canopy.", nil
	case strings.Contains(prompt, "comic panel"):
		return "A smiling leaf gestures at sunbeams in a bright meadow.", nil
	case strings.Contains(prompt, "Analyze this educational content"):
		return sampleReview, nil
	}
	return "ok", nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (f *fakeRenderer) Render(ctx context.Context, visualPrompt string, style imagen.StyleParams) (imagen.ImageHandle, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return imagen.ImageHandle{}, err
		}
	}
	return imagen.ImageHandle{Data: []byte{0x89, 0x50}, MIME: "image/png"}, nil
}

type memContent struct {
	mu      sync.Mutex
	lessons []string
	matches []domain.ContentMatch
}

func (m *memContent) Search(ctx context.Context, query string, mode domain.SearchMode, topK int) ([]domain.ContentMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ContentMatch(nil), m.matches...), nil
}

func (m *memContent) StoreLesson(ctx context.Context, topic, body, contentType, ageGroup string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons = append(m.lessons, topic)
	return nil
}

func (m *memContent) SuccessfulPatterns(ctx context.Context, limit int) ([]domain.GenerationPattern, error) {
	return nil, nil
}

type memPages struct {
	mu   sync.Mutex
	keys []string
}

func (m *memPages) Write(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return key, nil
}

func testDeps(reasoner Reasoner, renderer Renderer) *Deps {
	return &Deps{
		Reasoner: reasoner,
		Renderer: renderer,
		Content:  &memContent{},
		Cache:    cache.New(64, time.Minute),
		Pages:    &memPages{},
		Logger:   zerolog.Nop(),
	}
}

func newTestJob(id string) *domain.Job {
	job := &domain.Job{
		ID:      id,
		OwnerID: "owner-1",
		Params:  domain.ComicParams{Topic: "photosynthesis"},
		Status:  domain.JobStatusRunning,
	}
	job.Params.Normalize()
	return job
}

// fastExecutor returns an executor whose backoff sleeps are recorded, not
// waited on.
func fastExecutor(deps *Deps, delays *[]time.Duration) *Executor {
	e := NewExecutor(deps, nil, zerolog.Nop())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	}
	return e
}
