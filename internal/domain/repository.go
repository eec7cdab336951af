package domain

import "context"

// JobRepository defines persistence for job records. Implementations must
// provide atomic read-modify-write per job id; the claim operation doubles
// as the durable FIFO queue.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ClaimNext atomically moves the oldest queued job to running and
	// returns it. ErrNoJobAvailable when the queue is empty.
	ClaimNext(ctx context.Context) (*Job, error)
	// AppendStageOutput appends one output slot and advances the stage
	// index. Called after every successful stage so pollers observe
	// real-time progress.
	AppendStageOutput(ctx context.Context, jobID string, stageIndex int, output []byte) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, rec ErrorRecord) error
	MarkCancelled(ctx context.Context, jobID string) error
	// RequestCancel flags a job for cancellation. Queued jobs move to
	// cancelled directly; running jobs are stopped by their orchestrator
	// at the next stage boundary.
	RequestCancel(ctx context.Context, jobID string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	// RequeueOrphans returns running jobs back to queued. Called once on
	// worker startup so a crashed process never strands a job.
	RequeueOrphans(ctx context.Context) (int, error)
}

// SearchMode selects how the content store matches a query.
type SearchMode string

const (
	SearchModeSimilarity SearchMode = "similarity"
	SearchModeKeyword    SearchMode = "keyword"
)

// ContentMatch is one hit from the content-lookup store.
type ContentMatch struct {
	ID          int64
	Topic       string
	Body        string
	ContentType string
	AgeGroup    string
	Score       float64
}

// GenerationPattern summarizes a prior successful generation for reuse.
type GenerationPattern struct {
	Topic           string
	Style           string
	Language        string
	DurationSeconds int
}

// ContentRepository is the content-lookup port: finite, restartable
// searches over stored lesson material, no persistent cursor.
type ContentRepository interface {
	Search(ctx context.Context, query string, mode SearchMode, topK int) ([]ContentMatch, error)
	StoreLesson(ctx context.Context, topic, body, contentType, ageGroup string) error
	SuccessfulPatterns(ctx context.Context, limit int) ([]GenerationPattern, error)
}

// StageLogRepository records per-attempt stage execution history.
type StageLogRepository interface {
	LogAttempt(ctx context.Context, attempt StageAttempt) error
}
