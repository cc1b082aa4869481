package stores

import (
	"context"
	"time"

	"github.com/siteprov/siteprov/pkg/engine"
)

// Run is a stored provisioning run.
type Run struct {
	ID          string     `json:"id"`
	Workdir     string     `json:"workdir"`
	Target      string     `json:"target,omitempty"`
	Host        string     `json:"host,omitempty"`
	Status      string     `json:"status"`
	ExitCode    int        `json:"exit_code"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Diagnostic  string     `json:"diagnostic,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageRecord is a stored stage result.
type StageRecord struct {
	RunID     string        `json:"run_id"`
	Seq       int           `json:"seq"`
	Stage     string        `json:"stage"`
	Policy    string        `json:"policy"`
	Outcome   string        `json:"outcome"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// EventRecord is a stored run event.
type EventRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status string
	Limit  int
	Offset int
}

// Store is the run history interface.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	RecordStageResult(ctx context.Context, rec *StageRecord) error
	ListStages(ctx context.Context, runID string) ([]*StageRecord, error)

	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, runID string) ([]*EventRecord, error)

	HealthCheck(ctx context.Context) error
}

// RunLabels are stored with a run but are not part of the engine model.
type RunLabels struct {
	Target string
	Host   string
}

// FromEngineRun converts an engine run.
func FromEngineRun(run *engine.Run, labels RunLabels) *Run {
	out := &Run{
		ID:          run.ID,
		Workdir:     run.InitialEnv.Workdir,
		Target:      labels.Target,
		Host:        labels.Host,
		Status:      string(run.Status),
		ExitCode:    run.ExitCode,
		Diagnostic:  run.Diagnostic,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.Err != nil {
		out.ErrorCode = run.Err.Code
	}
	return out
}

// FromStageResult converts an engine stage result.
func FromStageResult(runID string, res engine.StageResult) *StageRecord {
	rec := &StageRecord{
		RunID:    runID,
		Seq:      res.Seq,
		Stage:    res.Stage,
		Policy:   string(res.Policy),
		Outcome:  string(res.Outcome.Status),
		Message:  res.Outcome.Message,
		Duration: res.Duration,
	}
	if !res.StartedAt.IsZero() {
		started := res.StartedAt
		rec.StartedAt = &started
	}
	if res.Outcome.Err != nil {
		rec.Code = res.Outcome.Err.Code
		rec.Message = res.Outcome.Err.Diagnostic()
	}
	return rec
}
