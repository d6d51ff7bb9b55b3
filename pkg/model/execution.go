package model

import (
	"time"

	"github.com/google/uuid"
)

type RunID string

// NewRunID generates a unique ID used as the per-invocation output
// namespace, so concurrently running workflows never share directories.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepTimedOut  StepStatus = "timed_out"
	// StepSkipped marks steps that did not run to their own outcome:
	// never launched because an earlier step failed, or terminated by
	// cancellation of the invocation or of a sibling's failed stage.
	StepSkipped StepStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepTimedOut, StepSkipped:
		return true
	}
	return false
}

// StepResult records the outcome of one workflow step.
type StepResult struct {
	Name       string
	Status     StepStatus
	ExitCode   int
	Diagnostic string
	Artifacts  []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecutionResult is created fresh per invocation and never persisted
// by the core.
type ExecutionResult struct {
	Name       string
	RunID      RunID
	Steps      []*StepResult
	Artifacts  []string
	FailedStep string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether every step finished successfully.
func (r *ExecutionResult) Succeeded() bool {
	if r.FailedStep != "" {
		return false
	}
	for _, s := range r.Steps {
		if s.Status != StepSucceeded {
			return false
		}
	}
	return true
}
