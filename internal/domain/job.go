package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job encapsulates the lifecycle of one comic generation request. Stage
// outputs are appended strictly in stage order by the orchestrator that owns
// the job; no other writer touches a running job.
type Job struct {
	ID              string
	OwnerID         string
	Params          ComicParams
	StageIndex      int
	Status          JobStatus
	StageOutputs    []json.RawMessage
	ErrorRecord     *ErrorRecord
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ComicParams is the immutable input configuration captured at submission.
type ComicParams struct {
	Topic      string   `json:"topic"`
	Style      string   `json:"style,omitempty"`
	Language   string   `json:"language,omitempty"`
	AgeGroup   string   `json:"age_group,omitempty"`
	Objectives []string `json:"objectives,omitempty"`
	Characters []string `json:"characters,omitempty"`
}

// Normalize applies submission defaults so the pipeline never sees empty
// style, language, or age group fields.
func (p *ComicParams) Normalize() {
	if p.Style == "" {
		p.Style = "comic"
	}
	if p.Language == "" {
		p.Language = "en"
	}
	if p.AgeGroup == "" {
		p.AgeGroup = "child"
	}
}

// ErrorRecord captures the single failure that terminated a job.
type ErrorRecord struct {
	Stage   int       `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StageAttempt is one row of the per-stage execution log.
type StageAttempt struct {
	JobID      string
	Stage      string
	StageIndex int
	Attempt    int
	DurationMS int64
	Status     string
	Error      string
	CreatedAt  time.Time
}
