package engine

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// Command describes a single external program invocation.
type Command struct {
	// Name is the program to run. It is resolved against the Env search path.
	Name string `json:"name"`

	// Args are the program arguments.
	Args []string `json:"args,omitempty"`

	// Dir is the working directory. Empty means the Env working directory.
	Dir string `json:"dir,omitempty"`

	// Env is the full environment the program sees.
	Env Env `json:"-"`

	// Stdin, when set, is fed to the program.
	Stdin io.Reader `json:"-"`
}

// CommandResult is the outcome of a Command. A non-zero exit code is reported
// here and is not an error.
type CommandResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited with status 0.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// CommandRunner executes external programs. Run returns an error only when
// the program could not be started or waited for (not found, I/O failure,
// cancellation).
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
}

// FileSystem is the subset of filesystem operations stages need.
type FileSystem interface {
	// RemoveAll removes path and any children. A missing path is not an error.
	RemoveAll(path string) error

	// Stat returns file info; a missing path returns an error satisfying
	// errors.Is(err, fs.ErrNotExist).
	Stat(path string) (fs.FileInfo, error)

	// ReadFile returns the contents of a file.
	ReadFile(path string) ([]byte, error)

	// ReadDir lists a directory.
	ReadDir(path string) ([]fs.DirEntry, error)
}

// EventPublisher publishes run events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// RunRecorder persists run history.
type RunRecorder interface {
	// RecordRunStarted stores a newly started run.
	RecordRunStarted(ctx context.Context, run *Run) error

	// RecordStage stores one stage result.
	RecordStage(ctx context.Context, runID string, result StageResult) error

	// RecordRunCompleted stores the final run state.
	RecordRunCompleted(ctx context.Context, run *Run) error
}

// StageMetrics receives timing and outcome measurements.
type StageMetrics interface {
	RecordRunStarted()
	RecordRunCompleted(status string, duration time.Duration)
	RecordStage(stage, outcome string, duration time.Duration)
	RecordError(class, code string)
}
