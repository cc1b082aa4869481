package stores

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/engine"
)

// Recorder adapts a Store to engine.RunRecorder.
type Recorder struct {
	store  Store
	labels RunLabels
}

var _ engine.RunRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder that stores runs with labels attached.
func NewRecorder(store Store, labels RunLabels) *Recorder {
	return &Recorder{store: store, labels: labels}
}

// RecordRunStarted implements engine.RunRecorder.
func (r *Recorder) RecordRunStarted(ctx context.Context, run *engine.Run) error {
	return r.store.CreateRun(ctx, FromEngineRun(run, r.labels))
}

// RecordStage implements engine.RunRecorder.
func (r *Recorder) RecordStage(ctx context.Context, runID string, result engine.StageResult) error {
	return r.store.RecordStageResult(ctx, FromStageResult(runID, result))
}

// RecordRunCompleted implements engine.RunRecorder. Stages the run never
// reached are stored here as not_run.
func (r *Recorder) RecordRunCompleted(ctx context.Context, run *engine.Run) error {
	for _, res := range run.Stages {
		if res.Outcome.Status != engine.OutcomeNotRun {
			continue
		}
		if err := r.store.RecordStageResult(ctx, FromStageResult(run.ID, res)); err != nil {
			return err
		}
	}
	return r.store.CompleteRun(ctx, FromEngineRun(run, r.labels))
}

// EventSink returns an event subscriber that appends every event to store.
// Write failures are logged and dropped.
func EventSink(ctx context.Context, store Store, logger zerolog.Logger) func(engine.Event) {
	logger = logger.With().Str("component", "event_sink").Logger()
	return func(event engine.Event) {
		rec := &EventRecord{
			EventID:   event.ID,
			RunID:     event.RunID,
			Stage:     event.Stage,
			Type:      string(event.Type),
			Level:     string(event.Level),
			Message:   event.Message,
			Timestamp: event.Timestamp,
		}
		if err := store.AppendEvent(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("run_id", event.RunID).Str("type", rec.Type).Msg("Failed to store event")
		}
	}
}
