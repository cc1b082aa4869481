package engine

import (
	"fmt"
)

// RunStatus represents the overall status of a provisioning run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but no stage has started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every stage succeeded or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates the run finished but at least one
	// best-effort stage failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates a fatal stage failure terminated the run.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the context was cancelled between stages.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// ExitCode maps a terminal status onto the process exit code.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunStatusSucceeded, RunStatusPartial:
		return 0
	default:
		return 1
	}
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// OutcomeStatus is the tag of a stage Outcome.
type OutcomeStatus string

const (
	// OutcomeSucceeded indicates the stage completed its work.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeSkipped indicates the stage had nothing to do.
	OutcomeSkipped OutcomeStatus = "skipped"

	// OutcomeFailed indicates the stage failed; see Outcome.Err.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeNotRun marks stages never reached because an earlier stage was fatal.
	OutcomeNotRun OutcomeStatus = "not_run"
)

// FailurePolicy describes how a stage's failures are treated.
type FailurePolicy string

const (
	// PolicyFatal stages terminate the run on failure.
	PolicyFatal FailurePolicy = "fatal"

	// PolicyBestEffort stages log their failures and let the run continue.
	PolicyBestEffort FailurePolicy = "best-effort"
)

// ErrorClass returns the class a failure of a stage with this policy takes.
func (p FailurePolicy) ErrorClass() ErrorClass {
	if p == PolicyBestEffort {
		return ErrorClassRecoverable
	}
	return ErrorClassFatal
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run finished with exit code 0.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a run terminated with a non-zero exit code.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeStageStarted indicates a stage has started.
	EventTypeStageStarted EventType = "stage_started"

	// EventTypeStageSucceeded indicates a stage completed.
	EventTypeStageSucceeded EventType = "stage_succeeded"

	// EventTypeStageSkipped indicates a stage was skipped.
	EventTypeStageSkipped EventType = "stage_skipped"

	// EventTypeStageFailed indicates a stage failed.
	EventTypeStageFailed EventType = "stage_failed"
)

// EventLevel is the severity of an event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "debug"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warning"
	EventLevelError EventLevel = "error"
)
