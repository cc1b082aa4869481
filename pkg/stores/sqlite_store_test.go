package stores

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/engine"
	"github.com/siteprov/siteprov/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check before Init should fail")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "stage_results", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Applying again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 123000000, time.UTC)
	run := &Run{
		ID:        "4f1d2c3b-0000-4000-8000-000000000001",
		Workdir:   "/srv/app",
		Target:    "/home/site/wwwroot",
		Status:    string(engine.RunStatusRunning),
		StartedAt: started,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("stored run mismatch (-want +got):\n%s", diff)
	}

	completed := started.Add(90 * time.Second)
	run.Status = string(engine.RunStatusFailed)
	run.ExitCode = 1
	run.ErrorCode = engine.ErrCodeTargetDirMissing
	run.Diagnostic = "finalize-workdir: target directory /home/site/wwwroot does not exist"
	run.CompletedAt = &completed
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err = store.GetRun(ctx, "4f1d2c3b")
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("completed run mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRun_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"ab-1", "ab-2"} {
		if err := store.CreateRun(ctx, &Run{ID: id, Workdir: "/srv", Status: "running", StartedAt: time.Now()}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	if _, err := store.GetRun(ctx, "zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(zz) error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetRun(ctx, "ab"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(ab) error = %v, want ambiguity error", err)
	}
	if run, err := store.GetRun(ctx, "ab-1"); err != nil || run.ID != "ab-1" {
		t.Errorf("GetRun(ab-1) = %v, %v", run, err)
	}
	for _, id := range []string{"%", "a%", "ab_1", "_b-1"} {
		if _, err := store.GetRun(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRun(%q) error = %v, want ErrNotFound", id, err)
		}
	}
	if err := store.CompleteRun(ctx, &Run{ID: "missing", Status: "succeeded"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetRun_EmptyID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &Run{ID: "only", Workdir: "/srv", Status: "running", StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, err := store.GetRun(ctx, "")
	if err == nil {
		t.Fatalf("GetRun(\"\") = %v, want error", run)
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(\"\") error = %v, want a missing-ID error", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	statuses := []string{"succeeded", "failed", "succeeded", "partial", "succeeded"}
	for i, status := range statuses {
		run := &Run{
			ID:        fmt.Sprintf("run-%d", i),
			Workdir:   "/srv/app",
			Status:    status,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all newest first", RunFilter{}, []string{"run-4", "run-3", "run-2", "run-1", "run-0"}},
		{"by status", RunFilter{Status: "succeeded"}, []string{"run-4", "run-2", "run-0"}},
		{"limit", RunFilter{Limit: 2}, []string{"run-4", "run-3"}},
		{"offset", RunFilter{Limit: 2, Offset: 3}, []string{"run-1", "run-0"}},
		{"no match", RunFilter{Status: "cancelled"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ListRuns mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStageResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &Run{ID: "r1", Workdir: "/srv", Status: "running", StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	recs := []*StageRecord{
		{RunID: "r1", Seq: 2, Stage: "bootstrap-pip", Policy: "best_effort", Outcome: "failed", Code: "BOOTSTRAP_FAILED", Message: "curl failed", StartedAt: &started, Duration: 1500 * time.Millisecond},
		{RunID: "r1", Seq: 1, Stage: "reset", Policy: "fatal", Outcome: "succeeded", Message: "Removed /srv/.venv", StartedAt: &started, Duration: 20 * time.Millisecond},
		{RunID: "r1", Seq: 3, Stage: "create-venv", Policy: "fatal", Outcome: "not_run"},
	}
	for _, rec := range recs {
		if err := store.RecordStageResult(ctx, rec); err != nil {
			t.Fatalf("RecordStageResult: %v", err)
		}
	}

	// Re-recording replaces the earlier row.
	replaced := *recs[2]
	replaced.Outcome = "succeeded"
	if err := store.RecordStageResult(ctx, &replaced); err != nil {
		t.Fatalf("RecordStageResult: %v", err)
	}

	got, err := store.ListStages(ctx, "r1")
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	want := []*StageRecord{recs[1], recs[0], &replaced}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListStages mismatch (-want +got):\n%s", diff)
	}

	if err := store.RecordStageResult(ctx, &StageRecord{RunID: "nope", Seq: 1, Stage: "reset"}); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &Run{ID: "r1", Workdir: "/srv", Status: "running", StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, typ := range []string{"run_started", "stage_started", "run_completed"} {
		ev := &EventRecord{EventID: fmt.Sprintf("e%d", i), RunID: "r1", Type: typ, Level: "info", Timestamp: ts}
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.ID == 0 {
			t.Error("AppendEvent did not set ID")
		}
	}

	events, err := store.ListEvents(ctx, "r1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
		if !e.Timestamp.Equal(ts) {
			t.Errorf("timestamp = %v, want %v", e.Timestamp, ts)
		}
	}
	if diff := cmp.Diff([]string{"run_started", "stage_started", "run_completed"}, types); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder_PersistsDriverRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	publisher.Subscribe(EventSink(ctx, store, zerolog.Nop()), nil)

	driver := engine.NewDriver(engine.DriverConfig{
		Logger:    zerolog.Nop(),
		Publisher: publisher,
		Recorder:  NewRecorder(store, RunLabels{Target: "/home/site/wwwroot", Host: "web-1"}),
	})

	ok := func(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
		return env, engine.Succeeded("done")
	}
	stages := []engine.Stage{
		engine.NewStage("first", "first stage", engine.PolicyFatal, ok),
		engine.NewStage("second", "second stage", engine.PolicyFatal, func(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
			return env, engine.Failed(engine.NewFatalError(engine.ErrCodeTargetDirMissing, "target directory /x does not exist", nil))
		}),
		engine.NewStage("third", "third stage", engine.PolicyFatal, ok),
	}

	run, err := driver.Execute(ctx, stages, engine.NewEnv("/srv/app", []string{"PATH=/usr/bin"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stored, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != string(engine.RunStatusFailed) || stored.ExitCode != 1 {
		t.Errorf("stored status = %s/%d, want failed/1", stored.Status, stored.ExitCode)
	}
	if stored.ErrorCode != engine.ErrCodeTargetDirMissing {
		t.Errorf("stored error code = %q", stored.ErrorCode)
	}
	if stored.Host != "web-1" || stored.Workdir != "/srv/app" || stored.CompletedAt == nil {
		t.Errorf("stored run = %+v", stored)
	}

	stageRecs, err := store.ListStages(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	var got []string
	for _, s := range stageRecs {
		got = append(got, s.Stage+"="+s.Outcome)
	}
	want := []string{"first=succeeded", "second=failed", "third=not_run"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}
	if stageRecs[1].Code != engine.ErrCodeTargetDirMissing {
		t.Errorf("failed stage code = %q", stageRecs[1].Code)
	}

	events, err := store.ListEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) == 0 || events[0].Type != string(engine.EventTypeRunStarted) {
		t.Fatalf("events = %+v, want run_started first", events)
	}
	if last := events[len(events)-1]; last.Type != string(engine.EventTypeRunFailed) {
		t.Errorf("last event = %s, want run_failed", last.Type)
	}
}
