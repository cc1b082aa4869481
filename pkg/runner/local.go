// Package runner executes provisioning commands on the local machine.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/engine"
)

// ErrNotFound is returned when a program cannot be found on the Env search path.
var ErrNotFound = errors.New("executable not found")

// LocalRunner runs commands as child processes of siteprov.
type LocalRunner struct {
	logger zerolog.Logger

	// Output, when set, receives a live copy of stdout and stderr.
	Output io.Writer
}

// NewLocalRunner creates a local command runner.
func NewLocalRunner(logger zerolog.Logger, output io.Writer) *LocalRunner {
	return &LocalRunner{
		logger: logger.With().Str("component", "runner").Logger(),
		Output: output,
	}
}

// Run executes cmd with exactly the environment carried by cmd.Env.
func (r *LocalRunner) Run(ctx context.Context, cmd engine.Command) (*engine.CommandResult, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	path, err := LookPath(cmd.Env, cmd.Name)
	if err != nil {
		return nil, err
	}

	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Env = cmd.Env.Environ()
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = cmd.Env.Workdir
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if r.Output != nil {
		c.Stdout = io.MultiWriter(&stdout, r.Output)
		c.Stderr = io.MultiWriter(&stderr, r.Output)
	}

	r.logger.Debug().
		Str("program", path).
		Strs("args", cmd.Args).
		Str("dir", c.Dir).
		Msg("Executing command")

	start := time.Now()
	err = c.Run()
	result := &engine.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
		}
	}

	r.logger.Debug().
		Str("program", cmd.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command finished")

	return result, nil
}

// LookPath resolves name against env.Path. Names containing a path separator
// are resolved against env.Workdir instead of the search path.
func LookPath(env engine.Env, name string) (string, error) {
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		p := env.Resolve(name)
		if isExecutable(p) {
			return p, nil
		}
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	for _, dir := range env.Path {
		p := filepath.Join(dir, name)
		if isExecutable(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
