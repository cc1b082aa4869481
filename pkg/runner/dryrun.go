package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/siteprov/siteprov/pkg/engine"
)

// DryRunRunner records commands instead of executing them. Every command
// reports success with empty output.
type DryRunRunner struct {
	mu       sync.Mutex
	commands []engine.Command
	out      io.Writer
}

// NewDryRunRunner creates a runner that prints each command to out, if set.
func NewDryRunRunner(out io.Writer) *DryRunRunner {
	return &DryRunRunner{out: out}
}

// Run records cmd.
func (r *DryRunRunner) Run(ctx context.Context, cmd engine.Command) (*engine.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.out != nil {
		dir := cmd.Dir
		if dir == "" {
			dir = cmd.Env.Workdir
		}
		fmt.Fprintf(r.out, "[%s] %s\n", dir, FormatCommand(cmd))
	}
	return &engine.CommandResult{}, nil
}

// Commands returns the recorded commands in execution order.
func (r *DryRunRunner) Commands() []engine.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Command(nil), r.commands...)
}

// FormatCommand renders cmd as a shell-like line.
func FormatCommand(cmd engine.Command) string {
	parts := make([]string, 0, len(cmd.Args)+1)
	parts = append(parts, Quote(cmd.Name))
	for _, a := range cmd.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Quote quotes s for a POSIX shell when it contains special characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"$&|;<>()*?`\\#~!{}[]") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}
