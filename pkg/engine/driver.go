package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/siteprov/siteprov/pkg/engine"

// DriverConfig wires the observers of a Driver. Every field is optional.
type DriverConfig struct {
	Logger    zerolog.Logger
	Publisher EventPublisher
	Recorder  RunRecorder
	Metrics   StageMetrics
	Tracer    trace.Tracer
}

// Driver executes stages strictly in order and halts on the first fatal outcome.
type Driver struct {
	logger    zerolog.Logger
	publisher EventPublisher
	recorder  RunRecorder
	metrics   StageMetrics
	tracer    trace.Tracer
	now       func() time.Time
}

// NewDriver creates a new driver.
func NewDriver(cfg DriverConfig) *Driver {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Driver{
		logger:    cfg.Logger.With().Str("component", "driver").Logger(),
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		metrics:   cfg.Metrics,
		tracer:    tracer,
		now:       time.Now,
	}
}

// Execute runs stages in order starting from env. The returned Run is always
// non-nil when err is nil; terminal stage failures are reported through
// Run.Status, Run.ExitCode and Run.Err rather than through err.
func (d *Driver) Execute(ctx context.Context, stages []Stage, env Env) (*Run, error) {
	if len(stages) == 0 {
		return nil, NewFatalError(ErrCodeInternal, "no stages to execute", nil)
	}
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		if seen[s.Name()] {
			return nil, NewFatalError(ErrCodeInternal, fmt.Sprintf("duplicate stage name %q", s.Name()), nil)
		}
		seen[s.Name()] = true
	}

	run := &Run{
		ID:         uuid.New().String(),
		Status:     RunStatusRunning,
		StartedAt:  d.now(),
		InitialEnv: env.Clone(),
		FinalEnv:   env.Clone(),
		Stages:     make([]StageResult, 0, len(stages)),
	}
	logger := d.logger.With().Str("run_id", run.ID).Logger()

	ctx, runSpan := d.tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.stages", len(stages)),
	))
	defer runSpan.End()

	if d.recorder != nil {
		if err := d.recorder.RecordRunStarted(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run start")
		}
	}
	if d.metrics != nil {
		d.metrics.RecordRunStarted()
	}
	d.publishEvent(ctx, run.ID, "", EventTypeRunStarted, EventLevelInfo, "Run started")
	logger.Info().Int("stages", len(stages)).Str("workdir", env.Workdir).Msg("Starting provisioning run")

	current := env
	partial := false
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			serr := NewFatalError(ErrCodeCancelled, "provisioning cancelled", err).WithStage(stage.Name())
			d.terminate(run, RunStatusCancelled, serr)
			d.markNotRun(run, stages[i:], i)
			break
		}

		result, next := d.executeStage(ctx, logger, run.ID, i+1, stage, current)
		run.Stages = append(run.Stages, result)
		if d.recorder != nil {
			if err := d.recorder.RecordStage(ctx, run.ID, result); err != nil {
				logger.Warn().Err(err).Str("stage", stage.Name()).Msg("Failed to record stage result")
			}
		}

		if result.Outcome.IsFatal() {
			d.terminate(run, RunStatusFailed, result.Outcome.Err)
			d.markNotRun(run, stages[i+1:], i+1)
			break
		}
		if result.Outcome.Status == OutcomeFailed {
			partial = true
		}
		current = next
		run.FinalEnv = current.Clone()
	}

	if !run.Status.IsTerminal() {
		run.Status = RunStatusSucceeded
		if partial {
			run.Status = RunStatusPartial
		}
		run.ExitCode = 0
	}
	completedAt := d.now()
	run.CompletedAt = &completedAt
	duration := completedAt.Sub(run.StartedAt)

	runSpan.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("run.exit_code", run.ExitCode),
	)
	if run.Err != nil {
		runSpan.RecordError(run.Err)
		runSpan.SetStatus(codes.Error, run.Err.Message)
	} else {
		runSpan.SetStatus(codes.Ok, "")
	}

	if d.metrics != nil {
		d.metrics.RecordRunCompleted(string(run.Status), duration)
	}
	if d.recorder != nil {
		if err := d.recorder.RecordRunCompleted(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run completion")
		}
	}

	if run.ExitCode == 0 {
		d.publishEvent(ctx, run.ID, "", EventTypeRunCompleted, EventLevelInfo,
			fmt.Sprintf("Run completed with status: %s", run.Status))
		logger.Info().
			Str("status", string(run.Status)).
			Dur("duration", duration).
			Str("workdir", run.FinalEnv.Workdir).
			Msg("Provisioning run completed")
	} else {
		d.publishEvent(ctx, run.ID, "", EventTypeRunFailed, EventLevelError, run.Diagnostic)
		logger.Error().
			Str("status", string(run.Status)).
			Str("code", run.Err.Code).
			Str("stage", run.Err.Stage).
			Dur("duration", duration).
			Msg("Provisioning run terminated")
	}

	return run, nil
}

// executeStage runs one stage with tracing, metrics and events around it.
func (d *Driver) executeStage(ctx context.Context, logger zerolog.Logger, runID string, seq int, stage Stage, env Env) (StageResult, Env) {
	name := stage.Name()
	stageLogger := logger.With().Str("stage", name).Int("seq", seq).Logger()

	ctx, span := d.tracer.Start(ctx, "stage."+name, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("stage.name", name),
		attribute.String("stage.policy", string(stage.Policy())),
		attribute.Int("stage.seq", seq),
	))
	defer span.End()

	d.publishEvent(ctx, runID, name, EventTypeStageStarted, EventLevelDebug, stage.Description())
	stageLogger.Debug().Msg(stage.Description())

	started := d.now()
	next, outcome := stage.Run(ctx, env.Clone())
	duration := d.now().Sub(started)

	if outcome.Status == "" {
		outcome.Status = OutcomeSucceeded
	}
	if outcome.Status == OutcomeFailed && outcome.Err == nil {
		outcome.Err = NewFatalError(ErrCodeInternal, "stage failed without an error", nil)
	}
	if outcome.Status == OutcomeFailed {
		// The stage policy decides whether the failure ends the run.
		serr := *outcome.Err
		serr.Class = stage.Policy().ErrorClass()
		if serr.Stage == "" {
			serr.Stage = name
		}
		outcome.Err = &serr
	} else if outcome.Err != nil && outcome.Err.Stage == "" {
		outcome.Err.Stage = name
	}

	result := StageResult{
		Seq:       seq,
		Stage:     name,
		Policy:    stage.Policy(),
		Outcome:   outcome,
		StartedAt: started,
		Duration:  duration,
	}

	span.SetAttributes(attribute.String("stage.outcome", string(outcome.Status)))
	if d.metrics != nil {
		d.metrics.RecordStage(name, string(outcome.Status), duration)
	}

	switch outcome.Status {
	case OutcomeSucceeded:
		span.SetStatus(codes.Ok, "")
		stageLogger.Info().Dur("duration", duration).Msg(nonEmpty(outcome.Message, "Stage succeeded"))
		d.publishEvent(ctx, runID, name, EventTypeStageSucceeded, EventLevelInfo, outcome.Message)
	case OutcomeSkipped:
		span.SetStatus(codes.Ok, "skipped")
		stageLogger.Info().Dur("duration", duration).Msg(nonEmpty(outcome.Message, "Stage skipped"))
		d.publishEvent(ctx, runID, name, EventTypeStageSkipped, EventLevelInfo, outcome.Message)
	case OutcomeFailed:
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Message)
		if d.metrics != nil {
			d.metrics.RecordError(string(outcome.Err.Class), outcome.Err.Code)
		}
		ev := stageLogger.Warn()
		level := EventLevelWarn
		if outcome.IsFatal() {
			ev = stageLogger.Error()
			level = EventLevelError
		}
		ev.Err(outcome.Err.Err).
			Str("code", outcome.Err.Code).
			Str("class", string(outcome.Err.Class)).
			Dur("duration", duration).
			Msg(outcome.Err.Message)
		d.publishEvent(ctx, runID, name, EventTypeStageFailed, level, outcome.Err.Diagnostic())
	}

	if outcome.Status == OutcomeFailed {
		return result, env
	}
	return result, next
}

// terminate marks the run as finished with a terminal failure.
func (d *Driver) terminate(run *Run, status RunStatus, err *StageError) {
	run.Status = status
	run.Err = err
	run.ExitCode = status.ExitCode()
	run.Diagnostic = err.Diagnostic()
}

// markNotRun appends placeholder results for stages that were never reached.
func (d *Driver) markNotRun(run *Run, rest []Stage, offset int) {
	for i, s := range rest {
		run.Stages = append(run.Stages, StageResult{
			Seq:     offset + i + 1,
			Stage:   s.Name(),
			Policy:  s.Policy(),
			Outcome: Outcome{Status: OutcomeNotRun},
		})
	}
}

// publishEvent publishes an event synchronously. Publishing failures are logged
// and never affect the run.
func (d *Driver) publishEvent(ctx context.Context, runID, stage string, eventType EventType, level EventLevel, message string) {
	if d.publisher == nil {
		return
	}
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: d.now(),
		RunID:     runID,
		Stage:     stage,
		Message:   message,
		Level:     level,
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
