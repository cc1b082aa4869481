package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/siteprov/siteprov/pkg/engine"
	"github.com/siteprov/siteprov/pkg/runner"
)

// Runner implements engine.CommandRunner on the remote host. Each command
// runs in its own session with exactly the environment carried by cmd.Env.
type Runner struct {
	client *Client
	logger zerolog.Logger

	// Output, when set, receives a live copy of stdout and stderr.
	Output io.Writer
}

// NewRunner creates a remote command runner over client.
func NewRunner(client *Client, logger zerolog.Logger, output io.Writer) *Runner {
	return &Runner{
		client: client,
		logger: logger.With().Str("component", "ssh-runner").Logger(),
		Output: output,
	}
}

// Run executes cmd remotely. Exit status 127 is how the remote shell reports
// a missing program; it is returned in the result like any other exit code.
func (r *Runner) Run(ctx context.Context, cmd engine.Command) (*engine.CommandResult, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	client, err := r.client.getClient()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if r.Output != nil {
		session.Stdout = io.MultiWriter(&stdout, r.Output)
		session.Stderr = io.MultiWriter(&stderr, r.Output)
	}
	if cmd.Stdin != nil {
		session.Stdin = cmd.Stdin
	}

	line := CommandLine(cmd)
	r.logger.Debug().Str("command", line).Msg("Executing remote command")

	start := time.Now()
	err = runSession(ctx, session, line)
	result := &engine.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	r.logger.Debug().
		Str("program", cmd.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Remote command finished")

	return result, nil
}

// CommandLine renders cmd as a POSIX shell line that changes into the working
// directory and replaces the login environment with cmd.Env.
func CommandLine(cmd engine.Command) string {
	dir := cmd.Dir
	if dir == "" {
		dir = cmd.Env.Workdir
	}

	var b strings.Builder
	if dir != "" {
		b.WriteString("cd ")
		b.WriteString(runner.Quote(dir))
		b.WriteString(" && ")
	}
	b.WriteString("exec env -i")
	for _, kv := range cmd.Env.Environ() {
		b.WriteByte(' ')
		b.WriteString(runner.Quote(kv))
	}
	b.WriteByte(' ')
	b.WriteString(runner.Quote(cmd.Name))
	for _, arg := range cmd.Args {
		b.WriteByte(' ')
		b.WriteString(runner.Quote(arg))
	}
	return b.String()
}

// runSession runs line and waits for it, killing the remote process when ctx
// is cancelled.
func runSession(ctx context.Context, session *ssh.Session, line string) error {
	if err := session.Start(line); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return ctx.Err()
	}
}
