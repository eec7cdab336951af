package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidParams   = errors.New("invalid params")
	ErrJobTerminal     = errors.New("job already terminal")
	ErrNoJobAvailable  = errors.New("no job available")
	ErrProviderFailure = errors.New("provider failure")
)

// ErrorKind classifies stage failures for retry policy and reporting.
type ErrorKind string

const (
	// ErrKindTransient covers timeouts, rate limits, and temporary
	// unavailability of an external service. Retryable.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindPermanent covers invalid or rejected input and content.
	ErrKindPermanent ErrorKind = "permanent"
	// ErrKindValidation marks a stage output that failed shape validation.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindTimeout marks a job that exceeded its wall-clock budget.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindCancelled marks an explicit cancellation.
	ErrKindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the stage executor may retry failures of this
// kind. Only transient failures are retried; everything else terminates the
// job immediately.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindTransient
}

// StageError is the failure result of a stage execution attempt.
type StageError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = fmt.Sprintf("stage %s: %s", e.Stage, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// Summary returns the human-readable message surfaced to pollers. Raw
// wrapped errors stay internal.
func (e *StageError) Summary() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// NewStageError builds a StageError wrapping err.
func NewStageError(kind ErrorKind, stage, message string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// NewPortError classifies a failure at an external port. The stage executor
// attributes it to the stage that issued the call.
func NewPortError(kind ErrorKind, message string, err error) *StageError {
	return &StageError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind from err, defaulting to transient so that
// unclassified failures (network resets, EOFs) stay retryable.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindTransient
}
