package engine

import (
	"context"
	"time"
)

// Stage is a single named step of a provisioning run.
type Stage interface {
	// Name is the stable identifier used in logs, metrics and history.
	Name() string

	// Description is a one-line human summary.
	Description() string

	// Policy reports whether failures of this stage are terminal.
	Policy() FailurePolicy

	// Run executes the stage against env and returns the resulting Env.
	// A failed Outcome should return env unchanged.
	Run(ctx context.Context, env Env) (Env, Outcome)
}

// Outcome is the tagged result of a stage.
type Outcome struct {
	// Status is the outcome tag.
	Status OutcomeStatus `json:"status"`

	// Message is a short human-readable note about what happened.
	Message string `json:"message,omitempty"`

	// Err is set when Status is OutcomeFailed.
	Err *StageError `json:"error,omitempty"`
}

// Succeeded returns a success outcome.
func Succeeded(message string) Outcome {
	return Outcome{Status: OutcomeSucceeded, Message: message}
}

// Skipped returns a recoverable-skip outcome.
func Skipped(message string) Outcome {
	return Outcome{Status: OutcomeSkipped, Message: message}
}

// Failed returns a failure outcome carrying err.
func Failed(err *StageError) Outcome {
	return Outcome{Status: OutcomeFailed, Message: err.Message, Err: err}
}

// IsFatal reports whether the outcome stops the run.
func (o Outcome) IsFatal() bool {
	return o.Status == OutcomeFailed && o.Err != nil && o.Err.Class == ErrorClassFatal
}

// StageFunc is the signature of a stage body.
type StageFunc func(ctx context.Context, env Env) (Env, Outcome)

type funcStage struct {
	name        string
	description string
	policy      FailurePolicy
	fn          StageFunc
}

// NewStage wraps a function as a Stage.
func NewStage(name, description string, policy FailurePolicy, fn StageFunc) Stage {
	return &funcStage{name: name, description: description, policy: policy, fn: fn}
}

func (s *funcStage) Name() string          { return s.name }
func (s *funcStage) Description() string   { return s.description }
func (s *funcStage) Policy() FailurePolicy { return s.policy }

func (s *funcStage) Run(ctx context.Context, env Env) (Env, Outcome) {
	return s.fn(ctx, env)
}

// StageResult records one stage execution inside a run.
type StageResult struct {
	// Seq is the 1-based position of the stage in the run.
	Seq int `json:"seq"`

	// Stage is the stage name.
	Stage string `json:"stage"`

	// Policy is the stage's failure policy.
	Policy FailurePolicy `json:"policy"`

	// Outcome is what the stage returned.
	Outcome Outcome `json:"outcome"`

	// StartedAt is when the stage began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock duration of the stage.
	Duration time.Duration `json:"duration"`
}

// Run is a single execution of a stage list.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// InitialEnv is the Env the run started with.
	InitialEnv Env `json:"initial_env"`

	// FinalEnv is the Env after the last completed stage.
	FinalEnv Env `json:"final_env"`

	// Stages lists every stage of the run in order, including those never reached.
	Stages []StageResult `json:"stages"`

	// ExitCode is 0 on success and 1 on any terminal failure.
	ExitCode int `json:"exit_code"`

	// Diagnostic is the line printed before a non-zero exit.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Err is the terminal stage error, if any.
	Err *StageError `json:"error,omitempty"`
}

// Result returns the recorded result for a stage name.
func (r *Run) Result(stage string) (StageResult, bool) {
	for _, res := range r.Stages {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

// Attempted reports whether the named stage was executed at all.
func (r *Run) Attempted(stage string) bool {
	res, ok := r.Result(stage)
	return ok && res.Outcome.Status != OutcomeNotRun
}

// Event represents a timeline event during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Stage is the stage name, empty for run-level events.
	Stage string `json:"stage,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity.
	Level EventLevel `json:"level"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`
}
